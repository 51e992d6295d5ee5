// Package cache memoises embeddings of repeated texts.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/smkim0508/Portable-Brain/memory"
)

// DefaultMaxBytes bounds the cached vectors when no size is configured.
const DefaultMaxBytes = 64 << 20

// Embedder wraps another embedder and skips texts it has already embedded.
type Embedder struct {
	next  memory.Embedder
	cache *ristretto.Cache
}

// New wraps next with a cache holding at most maxBytes of vectors.
func New(next memory.Embedder, maxBytes int64) (*Embedder, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{next: next, cache: c}, nil
}

// Embed returns cached vectors and embeds only the misses, in one call.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingAt []int
	for i, text := range texts {
		if v, ok := e.cache.Get(text); ok {
			out[i] = v.([]float32)
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := e.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(missing))
	}
	for j, v := range vectors {
		out[missingAt[j]] = v
		e.cache.Set(missing[j], v, int64(len(v)*4))
	}
	e.cache.Wait()
	return out, nil
}

// Dimensions returns the wrapped embedder's vector size.
func (e *Embedder) Dimensions() int { return e.next.Dimensions() }

// Close stops the cache's background goroutines.
func (e *Embedder) Close() { e.cache.Close() }
