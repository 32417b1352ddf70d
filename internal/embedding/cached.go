package embedding

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/singleflight"
)

// CachedEmbedder puts an in-process LRU and an optional Redis tier in front of another
// Embedder. Concurrent requests for the same uncached text share one provider call. That call
// is detached from every caller's cancellation, so a caller that gives up only stops waiting.
// Returned vectors are copies and may be modified by the caller.
type CachedEmbedder struct {
	inner Embedder
	local *EmbeddingCache
	redis *RedisCache
	group singleflight.Group
}

// CachedOption configures a CachedEmbedder.
type CachedOption func(*CachedEmbedder)

// WithRedisCache adds a shared second-level cache.
func WithRedisCache(rc *RedisCache) CachedOption {
	return func(c *CachedEmbedder) {
		c.redis = rc
	}
}

// NewCachedEmbedder wraps inner with an LRU of the given size.
func NewCachedEmbedder(inner Embedder, size int, opts ...CachedOption) *CachedEmbedder {
	c := &CachedEmbedder{
		inner: inner,
		local: NewEmbeddingCache(size),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedEmbedder) lookup(ctx context.Context, text string) ([]float32, bool) {
	if v, ok := c.local.Get(text); ok {
		return slices.Clone(v), true
	}
	if c.redis != nil {
		if v, ok := c.redis.Get(ctx, text); ok {
			c.local.Set(text, v)
			return slices.Clone(v), true
		}
	}
	return nil, false
}

func (c *CachedEmbedder) store(ctx context.Context, text string, v []float32) {
	c.local.Set(text, v)
	if c.redis != nil {
		c.redis.Set(ctx, text, v)
	}
}

// Embed returns the cached embedding for text, or asks the wrapped embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lookup(ctx, text); ok {
		return v, nil
	}
	ch := c.group.DoChan(text, func() (interface{}, error) {
		// Later callers may join this call, so it must outlive the caller that started it.
		// The provider's own request timeout bounds it.
		shared := context.WithoutCancel(ctx)
		v, err := c.inner.Embed(shared, text)
		if err != nil {
			return nil, err
		}
		if len(v) == 0 {
			return nil, ErrEmptyEmbedding
		}
		c.store(shared, text, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]float32)), nil
	}
}

// EmbedBatch serves cached texts locally and sends only the misses, deduplicated, to the
// wrapped embedder in one batch.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missing := make(map[string][]int)
	var order []string
	for i, t := range texts {
		if v, ok := c.lookup(ctx, t); ok {
			out[i] = v
			continue
		}
		if _, seen := missing[t]; !seen {
			order = append(order, t)
		}
		missing[t] = append(missing[t], i)
	}
	if len(order) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, order)
	if err != nil {
		return nil, err
	}
	if err := checkBatch(vectors, len(order)); err != nil {
		return nil, fmt.Errorf("cached batch: %w", err)
	}
	for j, t := range order {
		c.store(ctx, t, vectors[j])
		for _, i := range missing[t] {
			out[i] = slices.Clone(vectors[j])
		}
	}
	return out, nil
}

// Dimensions returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Close closes the Redis tier and the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	return c.inner.Close()
}
