// Package judge decides whether a window of actions contains a recurring
// behavioural pattern worth remembering.
//
// The decision is a deterministic procedure: partition the actions into
// candidate groups, disqualify weak groups, score the survivors and select one.
// A Renderer only turns the selected group into prose.
package judge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smkim0508/Portable-Brain/core"
)

// ErrRenderFailed is returned by Decide when a pattern was selected but the
// renderer could not produce a node for it.
var ErrRenderFailed = errors.New("judge: render failed")

// Score components.
const (
	MultiDayBonus      = 2.0
	ClusterBonus       = 2.0
	CrossPlatformBonus = 1.5
	SpecificityBonus   = 1.0
)

// Config holds the decision thresholds.
type Config struct {
	// MinMembers is the smallest group that can be accepted.
	MinMembers int `mapstructure:"min_members" yaml:"min_members"`

	// MinSpan is the shortest first-to-last member span that can be accepted.
	MinSpan time.Duration `mapstructure:"min_span" yaml:"min_span"`

	// ClusterWindow is the time-of-day spread that earns the cluster bonus.
	ClusterWindow time.Duration `mapstructure:"cluster_window" yaml:"cluster_window"`

	// ChainGap is the longest pause between two linked app switches.
	ChainGap time.Duration `mapstructure:"chain_gap" yaml:"chain_gap"`

	// MinChainOccurrences is how often a switch chain must repeat.
	MinChainOccurrences int `mapstructure:"min_chain_occurrences" yaml:"min_chain_occurrences"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinMembers:          3,
		MinSpan:             5 * time.Minute,
		ClusterWindow:       30 * time.Minute,
		ChainGap:            15 * time.Minute,
		MinChainOccurrences: 2,
	}
}

// Decision is the outcome of one judge run.
type Decision struct {
	// ObservationNode is empty when no pattern was found.
	ObservationNode string

	// Reasoning is the numbered decision trace.
	Reasoning string

	// Group is the selected group, nil when ObservationNode is empty.
	Group *Group
}

// Empty reports whether the decision found no pattern.
func (d Decision) Empty() bool { return d.ObservationNode == "" }

// Judge runs the pattern significance procedure.
type Judge struct {
	cfg      Config
	renderer Renderer
	loc      *time.Location
	logger   *zap.Logger
}

// Option configures a Judge.
type Option func(*Judge)

// WithConfig overrides the thresholds. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(j *Judge) {
		def := DefaultConfig()
		if cfg.MinMembers == 0 {
			cfg.MinMembers = def.MinMembers
		}
		if cfg.MinSpan == 0 {
			cfg.MinSpan = def.MinSpan
		}
		if cfg.ClusterWindow == 0 {
			cfg.ClusterWindow = def.ClusterWindow
		}
		if cfg.ChainGap == 0 {
			cfg.ChainGap = def.ChainGap
		}
		if cfg.MinChainOccurrences == 0 {
			cfg.MinChainOccurrences = def.MinChainOccurrences
		}
		j.cfg = cfg
	}
}

// WithRenderer sets the narrative renderer.
func WithRenderer(r Renderer) Option {
	return func(j *Judge) {
		j.renderer = r
	}
}

// WithLocation evaluates time-of-day and calendar days in loc instead of
// each timestamp's own zone.
func WithLocation(loc *time.Location) Option {
	return func(j *Judge) {
		j.loc = loc
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Judge) {
		j.logger = l
	}
}

// New creates a judge. Without WithRenderer the TemplateRenderer is used.
func New(opts ...Option) *Judge {
	j := &Judge{
		cfg:      DefaultConfig(),
		renderer: TemplateRenderer{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.Named("judge")
	return j
}

// Evaluation is the scored outcome before rendering.
type Evaluation struct {
	// Survivors are ordered best first.
	Survivors []*Group

	Disqualified map[string]string
	Steps        []string
}

// Winner returns the selected group or nil.
func (e Evaluation) Winner() *Group {
	if len(e.Survivors) == 0 {
		return nil
	}
	return e.Survivors[0]
}

// Evaluate partitions, filters, scores and ranks actions (oldest-first).
func (j *Judge) Evaluate(actions []core.Action) Evaluation {
	ev := Evaluation{Disqualified: make(map[string]string)}
	ev.Steps = append(ev.Steps, fmt.Sprintf("Received %d actions: %s.", len(actions), kindSummary(actions)))

	groups := partition(actions, j.loc, j.cfg.ChainGap)
	ev.Steps = append(ev.Steps, fmt.Sprintf("Partitioned into %d candidate groups by target, kind, time of day and app-switch chain.", len(groups)))

	var disq []string
	for _, g := range groups {
		describe(g, j.loc)
		if reason := j.disqualify(g); reason != "" {
			ev.Disqualified[g.Key] = reason
			disq = append(disq, fmt.Sprintf("%s (%s)", g.Key, reason))
			continue
		}
		ev.Survivors = append(ev.Survivors, g)
	}
	if len(disq) > 0 {
		ev.Steps = append(ev.Steps, "Disqualified: "+strings.Join(disq, "; ")+".")
	} else {
		ev.Steps = append(ev.Steps, "Disqualified: none.")
	}

	if len(ev.Survivors) == 0 {
		ev.Steps = append(ev.Steps, "No group survived; insufficient evidence for a recurring pattern.")
		return ev
	}

	scored := make([]string, 0, len(ev.Survivors))
	for _, g := range ev.Survivors {
		parts := j.score(g)
		scored = append(scored, fmt.Sprintf("%s=%s (%s)", g.Key, formatScore(g.Score), strings.Join(parts, " + ")))
	}
	ev.Steps = append(ev.Steps, "Scored: "+strings.Join(scored, "; ")+".")

	sort.SliceStable(ev.Survivors, func(a, b int) bool {
		return better(ev.Survivors[a], ev.Survivors[b])
	})

	w := ev.Survivors[0]
	sel := fmt.Sprintf("Selected %s with score %s (%d members over %d days, mostly %s)",
		w.Key, formatScore(w.Score), w.Count(), w.Days, w.TimeOfDay.Label())
	if len(ev.Survivors) > 1 && ev.Survivors[1].Score == w.Score {
		sel += fmt.Sprintf("; tied with %s, broken by %s", ev.Survivors[1].Key, tieReason(w, ev.Survivors[1]))
	}
	ev.Steps = append(ev.Steps, sel+".")
	return ev
}

// Decide runs Evaluate and renders the winner.
// A decision without a pattern is not an error.
func (j *Judge) Decide(ctx context.Context, actions []core.Action) (Decision, error) {
	ev := j.Evaluate(actions)
	w := ev.Winner()
	if w == nil {
		j.logger.Debug("no pattern", zap.Int("actions", len(actions)))
		return Decision{Reasoning: numbered(ev.Steps)}, nil
	}

	r, err := j.renderer.Render(ctx, w)
	if err != nil {
		j.logger.Warn("render failed", zap.String("group", w.Key), zap.Error(err))
		return Decision{}, fmt.Errorf("%w: %s: %w", ErrRenderFailed, w.Key, err)
	}
	steps := ev.Steps
	if r.Notes != "" {
		steps = append(steps, "Renderer: "+r.Notes)
	}
	steps = append(steps, "Conclusion: "+r.Node)

	j.logger.Info("pattern selected",
		zap.String("group", w.Key),
		zap.Float64("score", w.Score),
		zap.Int("members", w.Count()))

	return Decision{
		ObservationNode: r.Node,
		Reasoning:       numbered(steps),
		Group:           w,
	}, nil
}

func (j *Judge) disqualify(g *Group) string {
	if g.Count() < j.cfg.MinMembers {
		return fmt.Sprintf("%d members < %d", g.Count(), j.cfg.MinMembers)
	}
	if allUnknown(g.Members) {
		return "only unknown actions"
	}
	if g.Span < j.cfg.MinSpan {
		return fmt.Sprintf("span %s < %s", g.Span, j.cfg.MinSpan)
	}
	if g.Dimension == DimChain && g.Occurrences < j.cfg.MinChainOccurrences {
		return fmt.Sprintf("chain seen %d times < %d", g.Occurrences, j.cfg.MinChainOccurrences)
	}
	if isolatedSwitches(g.Members) {
		return "isolated app switches without recurrence"
	}
	return ""
}

// score sets g.Score and returns the contributing parts.
func (j *Judge) score(g *Group) []string {
	score := float64(g.Count())
	parts := []string{fmt.Sprintf("count %d", g.Count())}

	if g.MultiDay() {
		score += MultiDayBonus
		parts = append(parts, fmt.Sprintf("multi-day %s", formatScore(MultiDayBonus)))
		if j.clustered(g) {
			score += ClusterBonus
			parts = append(parts, fmt.Sprintf("clustered %s", formatScore(ClusterBonus)))
		}
	}

	if w := importantFraction(g.Members); w > 0 {
		score += w
		parts = append(parts, fmt.Sprintf("importance %s", formatScore(w)))
	}

	if g.Dimension == DimTarget && len(g.Packages) >= 2 {
		score += CrossPlatformBonus
		parts = append(parts, fmt.Sprintf("cross-platform %s", formatScore(CrossPlatformBonus)))
	}

	if g.Dimension == DimTarget || g.Dimension == DimChain {
		score += SpecificityBonus
		parts = append(parts, fmt.Sprintf("specific entity %s", formatScore(SpecificityBonus)))
	}

	g.Score = score
	return parts
}

// clustered reports whether every member's time of day lies within ClusterWindow.
func (j *Judge) clustered(g *Group) bool {
	if len(g.Members) == 0 {
		return false
	}
	return time.Duration(timeOfDaySpread(g.Members, j.loc))*time.Minute <= j.cfg.ClusterWindow
}

const minutesPerDay = 24 * 60

// timeOfDaySpread returns the shortest arc of the clock, in minutes, that
// covers every action's time of day. Arcs may wrap past midnight.
func timeOfDaySpread(actions []core.Action, loc *time.Location) int {
	minutes := make([]int, len(actions))
	for i, a := range actions {
		t := localTime(a.Base().Timestamp, loc)
		minutes[i] = t.Hour()*60 + t.Minute()
	}
	sort.Ints(minutes)

	// the widest empty stretch between neighbours, wrap gap included
	maxGap := minutes[0] + minutesPerDay - minutes[len(minutes)-1]
	for i := 1; i < len(minutes); i++ {
		maxGap = max(maxGap, minutes[i]-minutes[i-1])
	}
	return minutesPerDay - maxGap
}

// better orders groups: score, count, latest member, entity id, then key.
func better(a, b *Group) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Count() != b.Count() {
		return a.Count() > b.Count()
	}
	if la, lb := a.Latest(), b.Latest(); !la.Equal(lb) {
		return la.After(lb)
	}
	if a.Entity.ID != b.Entity.ID {
		return a.Entity.ID < b.Entity.ID
	}
	return a.Key < b.Key
}

func tieReason(a, b *Group) string {
	switch {
	case a.Count() != b.Count():
		return "member count"
	case !a.Latest().Equal(b.Latest()):
		return "most recent timestamp"
	case a.Entity.ID != b.Entity.ID:
		return "entity identifier"
	default:
		return "group key"
	}
}

func allUnknown(actions []core.Action) bool {
	for _, a := range actions {
		if a.Kind() != core.KindUnknown {
			return false
		}
	}
	return true
}

// isolatedSwitches reports a group made only of app switches in which no
// transition happens twice.
func isolatedSwitches(actions []core.Action) bool {
	seen := make(map[string]int)
	for _, a := range actions {
		sw, ok := a.(core.AppSwitchAction)
		if !ok {
			return false
		}
		seen[sw.SrcPackage+"->"+sw.DstPackage]++
	}
	for _, n := range seen {
		if n >= 2 {
			return false
		}
	}
	return true
}

func importantFraction(actions []core.Action) float64 {
	if len(actions) == 0 {
		return 0
	}
	n := 0
	for _, a := range actions {
		if a.Base().Importance >= 1.0 {
			n++
		}
	}
	return float64(n) / float64(len(actions))
}

func kindSummary(actions []core.Action) string {
	if len(actions) == 0 {
		return "none"
	}
	counts := make(map[core.ActionKind]int)
	for _, a := range actions {
		counts[a.Kind()]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%d %s", counts[core.ActionKind(k)], k)
	}
	return strings.Join(parts, ", ")
}

func formatScore(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

func numbered(steps []string) string {
	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, s)
	}
	return b.String()
}
