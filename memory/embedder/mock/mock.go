package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// DefaultDimensions matches the size of small sentence embedding models.
const DefaultDimensions = 384

// Embedder is a simple mock embedder for testing and offline replay.
// It generates deterministic unit vectors based on text hash.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder producing vectors of the given size.
// A non-positive size uses DefaultDimensions.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

// Embed creates one deterministic embedding per text.
func (m *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.embedOne(text)
	}
	return out, nil
}

func (m *Embedder) embedOne(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))

	// Use hash as seed for pseudo-random generation
	seed := h.Sum64()
	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// Simple LCG (Linear Congruential Generator)
		seed = seed*6364136223846793005 + 1442695040888963407
		// Convert to [-1, 1] range
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding)
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
