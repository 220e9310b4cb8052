package embed

import (
	"context"
	"time"

	"github.com/Keksclan/spawncache/embedcache"
	"github.com/Keksclan/spawncache/vector"
)

// Cached memoises an inner embedder. Keys are derived from the model name
// and the text, so two embedders sharing a cache never mix vectors.
type Cached struct {
	inner Embedder
	cache embedcache.Cache
	model string
	ttl   time.Duration
}

// NewCached wraps inner. model namespaces the cache keys; ttl bounds how long
// a vector is reused (0 means no expiry).
func NewCached(inner Embedder, cache embedcache.Cache, model string, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: cache, model: model, ttl: ttl}
}

// Dimension forwards the inner embedder's dimension, or 0 if unknown.
func (c *Cached) Dimension() int {
	if d, ok := c.inner.(Dimensioner); ok {
		return d.Dimension()
	}
	return 0
}

// Embed returns the cached vector for text, computing it on a miss. A
// computed vector whose length differs from Dimension is returned as an
// error and never stored.
func (c *Cached) Embed(ctx context.Context, text string) (vector.Vector, error) {
	return c.cache.GetOrSet(ctx, embedcache.Key(c.model, text), c.ttl, func(ctx context.Context) (vector.Vector, error) {
		v, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if dim := c.Dimension(); dim > 0 {
			if err := vector.Check(v, dim); err != nil {
				return nil, &Error{Provider: c.model, Err: err}
			}
		}
		return v, nil
	})
}
