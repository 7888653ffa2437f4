package retrieval

import (
	"context"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/cache"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder memoises embeddings by content hash.
type CachedEmbedder struct {
	inner Embedder
	cache cache.Provider
	ttl   time.Duration
	model string
}

// NewCachedEmbedder wraps inner; model namespaces the cache keys.
func NewCachedEmbedder(inner Embedder, provider cache.Provider, ttl time.Duration, model string) *CachedEmbedder {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &CachedEmbedder{inner: inner, cache: provider, ttl: ttl, model: model}
}

// Embed returns the cached vector or computes and stores it.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := "emb:" + utils.ContentHash(e.model, text)
	var vector []float32
	if err := cache.GetJSON(ctx, e.cache, key, &vector); err == nil && len(vector) > 0 {
		return vector, nil
	}
	vector, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = cache.SetJSON(ctx, e.cache, key, vector, e.ttl)
	return vector, nil
}
