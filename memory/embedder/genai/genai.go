package genai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	// DefaultModel is the Gemini embedding model used when none is configured.
	DefaultModel = "gemini-embedding-001"

	// DefaultDimensions is the native vector size of DefaultModel when not truncated.
	DefaultDimensions = 3072

	// maxBatch is the most texts sent in one EmbedContent call.
	maxBatch = 100
)

// Models is the subset of the Gemini models API the embedder needs.
// *genai.Models satisfies it.
type Models interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Config configures the Gemini embedder.
type Config struct {
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	Model    string `mapstructure:"model" yaml:"model"`
	TaskType string `mapstructure:"task_type" yaml:"task_type"`

	// Dimensions truncates the output vectors; zero keeps the model default.
	Dimensions int `mapstructure:"dimensions" yaml:"dimensions"`
}

// Embedder generates embeddings using Google's Gemini API.
type Embedder struct {
	models Models
	cfg    Config
}

// New creates an embedder backed by a Gemini API client.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return NewWithModels(client.Models, cfg), nil
}

// NewWithModels creates an embedder on top of an existing models client.
func NewWithModels(models Models, cfg Config) *Embedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.TaskType == "" {
		cfg.TaskType = "SEMANTIC_SIMILARITY"
	}
	return &Embedder{models: models, cfg: cfg}
}

// Embed generates one embedding per text. Large inputs are split into
// several requests.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	config := &genai.EmbedContentConfig{TaskType: e.cfg.TaskType}
	if e.cfg.Dimensions > 0 {
		dims := int32(e.cfg.Dimensions)
		config.OutputDimensionality = &dims
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		batch := texts[start:min(start+maxBatch, len(texts))]
		contents := make([]*genai.Content, len(batch))
		for i, text := range batch {
			contents[i] = genai.NewContentFromText(text, genai.RoleUser)
		}

		result, err := e.models.EmbedContent(ctx, e.cfg.Model, contents, config)
		if err != nil {
			return nil, fmt.Errorf("GenAI embed failed: %w", err)
		}
		if len(result.Embeddings) != len(batch) {
			return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts", len(result.Embeddings), len(batch))
		}
		for _, emb := range result.Embeddings {
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *Embedder) Dimensions() int {
	if e.cfg.Dimensions > 0 {
		return e.cfg.Dimensions
	}
	return DefaultDimensions
}
