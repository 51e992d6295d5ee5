package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smkim0508/Portable-Brain/core"
	"github.com/smkim0508/Portable-Brain/tools"
)

// ErrMalformedOutput marks a model response that is not a valid observation object.
var ErrMalformedOutput = errors.New("judge: malformed renderer output")

// MessageClient is the subset of the Anthropic messages API the renderer needs.
// *anthropic.MessageService satisfies it.
type MessageClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// ClaudeConfig configures ClaudeRenderer.
type ClaudeConfig struct {
	Model      string        `mapstructure:"model" yaml:"model"`
	MaxTokens  int64         `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryWait  time.Duration `mapstructure:"retry_wait" yaml:"retry_wait"`

	// RequestsPerSecond caps the call rate; zero disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// ClaudeRenderer asks Claude to phrase an already decided pattern.
// Output that does not match tools.ObservationSchema is retried a bounded
// number of times before the render fails.
type ClaudeRenderer struct {
	client  MessageClient
	cfg     ClaudeConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClaudeRenderer creates a renderer on top of client.
func NewClaudeRenderer(client MessageClient, cfg ClaudeConfig, logger *zap.Logger) *ClaudeRenderer {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ClaudeRenderer{
		client: client,
		cfg:    cfg,
		logger: logger.Named("claude_renderer"),
	}
	if cfg.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return r
}

// Render implements Renderer.
func (r *ClaudeRenderer) Render(ctx context.Context, g *Group) (Rendering, error) {
	prompt, err := patternPrompt(g)
	if err != nil {
		return Rendering{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.cfg.Model),
		MaxTokens: r.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: rendererSystemPrompt()},
		},
	}

	var out Rendering
	attempt := 0
	operation := func() error {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		resp, err := r.client.New(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			r.logger.Warn("claude request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			return fmt.Errorf("claude api error: %w", err)
		}

		var text string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}

		parsed, err := ParseRendering(text)
		if err != nil {
			r.logger.Warn("malformed renderer output, retrying", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		out = parsed
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.RetryWait), uint64(r.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return Rendering{}, fmt.Errorf("render %s after %d attempts: %w", g.Key, attempt, err)
	}
	return out, nil
}

// ParseRendering extracts an observation object from model text.
// Markdown code fences are stripped; the node must be a non-empty string.
func ParseRendering(text string) (Rendering, error) {
	s := stripCodeFence(text)
	if !gjson.Valid(s) {
		return Rendering{}, fmt.Errorf("%w: not valid JSON", ErrMalformedOutput)
	}
	node := gjson.Get(s, tools.FieldObservationNode)
	if node.Type != gjson.String || strings.TrimSpace(node.String()) == "" {
		return Rendering{}, fmt.Errorf("%w: missing %s", ErrMalformedOutput, tools.FieldObservationNode)
	}
	reasoning := gjson.Get(s, tools.FieldReasoning)
	if reasoning.Exists() && reasoning.Type != gjson.String {
		return Rendering{}, fmt.Errorf("%w: %s is not a string", ErrMalformedOutput, tools.FieldReasoning)
	}
	return Rendering{
		Node:  strings.TrimSpace(node.String()),
		Notes: strings.TrimSpace(reasoning.String()),
	}, nil
}

func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type promptAction struct {
	Type       core.ActionKind `json:"type"`
	Timestamp  string          `json:"timestamp"`
	Package    string          `json:"package"`
	Importance float64         `json:"importance"`
	Target     string          `json:"target,omitempty"`
}

type promptPattern struct {
	Group      string          `json:"group"`
	Dimension  Dimension       `json:"dimension"`
	Entity     string          `json:"entity"`
	EntityType core.EntityType `json:"entity_type"`
	Platforms  []string        `json:"platforms"`
	TimeOfDay  TimeBucket      `json:"time_of_day"`
	Days       int             `json:"days"`
	Count      int             `json:"count"`
	Draft      string          `json:"draft"`
	Actions    []promptAction  `json:"actions"`
}

func patternPrompt(g *Group) (string, error) {
	p := promptPattern{
		Group:      g.Key,
		Dimension:  g.Dimension,
		Entity:     g.Entity.ID,
		EntityType: g.Entity.Type,
		Platforms:  g.Platforms(),
		TimeOfDay:  g.TimeOfDay,
		Days:       g.Days,
		Count:      g.Count(),
		Draft:      Draft(g),
	}
	for _, a := range g.Members {
		b := a.Base()
		pa := promptAction{
			Type:       a.Kind(),
			Timestamp:  b.Timestamp.Format(time.RFC3339),
			Package:    b.Package,
			Importance: b.Importance,
		}
		if e, ok := core.TargetOf(a); ok {
			pa.Target = e.ID
		}
		p.Actions = append(p.Actions, pa)
	}
	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal pattern: %w", err)
	}
	return "Decided pattern:\n" + string(body), nil
}

func rendererSystemPrompt() string {
	return `You phrase behavioural observations about a phone user for a personal memory system.

The pattern has already been decided. Do not question it, add entities, or change counts.
Rewrite the draft as one or two natural sentences that name the concrete entity, platform
and time of day, then state the inferred behavioural meaning.

The pattern you receive follows this schema:
` + tools.Marshal(tools.PatternSchema()) + `

Respond with a single JSON object and nothing else, matching this schema:
` + tools.Marshal(tools.ObservationSchema())
}
