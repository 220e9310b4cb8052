package embedcache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Keksclan/spawncache/vector"
)

// Tiered combines an L1 (in-process) and an optional L2 (Redis) cache. Reads
// check L1 first, then L2, then the loader. Writes populate both layers.
type Tiered struct {
	l1 *L1
	l2 *L2

	group singleflight.Group
}

// NewTiered creates a two-level cache. l2 may be nil.
func NewTiered(l1 *L1, l2 *L2) *Tiered {
	return &Tiered{l1: l1, l2: l2}
}

// Get checks L1, then L2. On an L2 hit the vector is promoted into L1 (with
// zero TTL since we don't know the original TTL).
func (t *Tiered) Get(ctx context.Context, key string) (vector.Vector, bool, error) {
	if v, ok, err := t.l1.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}
	if t.l2 == nil {
		return nil, false, nil
	}
	v, ok, err := t.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = t.l1.Set(ctx, key, v, 0)
	return v, true, nil
}

// Set writes the vector to L1 and, once L1 accepted it, to L2 (if any).
func (t *Tiered) Set(ctx context.Context, key string, v vector.Vector, ttl time.Duration) error {
	if err := t.l1.Set(ctx, key, v, ttl); err != nil {
		return err
	}
	if t.l2 != nil {
		_ = t.l2.Set(ctx, key, v, ttl)
	}
	return nil
}

// GetOrSet follows the L1 → L2 → loader pattern, deduplicating concurrent
// loads for the same key.
func (t *Tiered) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (vector.Vector, error)) (vector.Vector, error) {
	if v, ok, _ := t.Get(ctx, key); ok {
		if ttl > 0 {
			_ = t.l1.Set(ctx, key, v, ttl)
		}
		return v, nil
	}

	res, err, _ := t.group.Do(key, func() (any, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := t.Set(ctx, key, v, ttl); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(vector.Vector).Clone(), nil
}
