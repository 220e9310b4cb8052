package embedcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Keksclan/spawncache/vector"
)

// ErrEmptyVector is returned by Set for a zero-length vector.
var ErrEmptyVector = errors.New("embedcache: empty vector")

// bytesPerComponent is the in-memory size of one float32 component.
const bytesPerComponent = 4

// L1 is an in-process vector cache backed by ristretto. Entries are costed
// by their size in bytes, so the budget holds maxEntries vectors of the
// configured dimension.
type L1 struct {
	rc  *ristretto.Cache[string, []float32]
	dim int

	group singleflight.Group
}

// NewL1 creates an L1 sized for maxEntries vectors of dim components. A dim
// of 0 accepts vectors of any length and sizes the budget for
// vector.DefaultDimension.
func NewL1(maxEntries int64, dim int) (*L1, error) {
	if dim < 0 {
		return nil, fmt.Errorf("embedcache: negative dimension %d", dim)
	}
	budgetDim := dim
	if budgetDim == 0 {
		budgetDim = vector.DefaultDimension
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries * int64(budgetDim*bytesPerComponent),
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &L1{rc: rc, dim: dim}, nil
}

// Dimension is the vector length Set accepts, or 0 for any.
func (l *L1) Dimension() int { return l.dim }

// Get retrieves a vector by key. The returned slice is a copy.
func (l *L1) Get(_ context.Context, key string) (vector.Vector, bool, error) {
	v, ok := l.rc.Get(key)
	if !ok {
		return nil, false, nil
	}
	return vector.Vector(v).Clone(), true, nil
}

// Set stores a copy of v under key with the given TTL. Empty vectors and,
// when the cache has a dimension, vectors of another length are rejected.
func (l *L1) Set(_ context.Context, key string, v vector.Vector, ttl time.Duration) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	if l.dim > 0 {
		if err := vector.Check(v, l.dim); err != nil {
			return err
		}
	}
	l.rc.SetWithTTL(key, v.Clone(), int64(len(v)*bytesPerComponent), ttl)
	l.rc.Wait()
	return nil
}

// Del removes key.
func (l *L1) Del(key string) {
	l.rc.Del(key)
}

// GetOrSet returns the cached vector for key. On a miss it calls loader once
// for all concurrent callers of the same key and stores the result. A
// result Set rejects is returned as an error.
func (l *L1) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (vector.Vector, error)) (vector.Vector, error) {
	if v, ok, _ := l.Get(ctx, key); ok {
		return v, nil
	}
	res, err, _ := l.group.Do(key, func() (any, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := l.Set(ctx, key, v, ttl); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(vector.Vector).Clone(), nil
}

// Close stops ristretto's background goroutines.
func (l *L1) Close() {
	l.rc.Close()
}
