package cached

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	registryembed "github.com/fableforge/chronicle/internal/registry/embed"
	"github.com/fableforge/chronicle/internal/security"
)

// Wrap decorates an embedder with an in-process cache keyed by the exact
// input text. Repeated scoring and retrieval of the same narrative text
// skips the embedding round trip.
func Wrap(inner registryembed.Embedder, maxEntries int) (registryembed.Embedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: int64(maxEntries) * 10,
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &cachedEmbedder{inner: inner, cache: cache}, nil
}

type cachedEmbedder struct {
	inner registryembed.Embedder
	cache *ristretto.Cache[string, []float32]
}

func (c *cachedEmbedder) ModelName() string { return c.inner.ModelName() }
func (c *cachedEmbedder) Dimension() int    { return c.inner.Dimension() }

func (c *cachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(text); ok {
			results[i] = vec
			if security.CacheHitsTotal != nil {
				security.CacheHitsTotal.Inc()
			}
			continue
		}
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	embedded, err := c.inner.EmbedTexts(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missing) {
		return nil, fmt.Errorf("embedding cache: expected %d embeddings, got %d", len(missing), len(embedded))
	}
	for j, vec := range embedded {
		results[missingIdx[j]] = vec
		c.cache.Set(missing[j], vec, 1)
	}
	return results, nil
}

var _ registryembed.Embedder = (*cachedEmbedder)(nil)
