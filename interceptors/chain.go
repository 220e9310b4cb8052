// Package interceptors wraps spawncache factories with cross-cutting
// behaviour: panic recovery, rate limiting and request ids.
package interceptors

import (
	"context"

	"github.com/Keksclan/spawncache"
	"github.com/Keksclan/spawncache/descriptor"
)

// Interceptor runs around a factory call. It must call next to produce the
// artifact, or return without calling it to short-circuit.
type Interceptor[A any] func(ctx context.Context, d descriptor.Descriptor, next spawncache.Factory[A]) (A, error)

// Chain wraps factory with interceptors. Interceptors execute in the order
// they appear in the slice.
func Chain[A any](factory spawncache.Factory[A], interceptors ...Interceptor[A]) spawncache.Factory[A] {
	if len(interceptors) == 0 {
		return factory
	}
	curr := factory
	for i := len(interceptors) - 1; i >= 0; i-- {
		next := curr
		ic := interceptors[i]
		curr = func(ctx context.Context, d descriptor.Descriptor) (A, error) {
			return ic(ctx, d, next)
		}
	}
	return curr
}
