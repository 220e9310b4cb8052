package interceptors

import (
	"context"

	"github.com/Keksclan/spawncache"
	"github.com/Keksclan/spawncache/contextx"
	"github.com/Keksclan/spawncache/descriptor"
)

// RequestID ensures the factory sees a request id. When the context has
// none, the descriptor's ID is used, or a fresh one is generated.
func RequestID[A any]() Interceptor[A] {
	return func(ctx context.Context, d descriptor.Descriptor, next spawncache.Factory[A]) (A, error) {
		if contextx.RequestIDFromContext(ctx) == "" {
			if d.ID != "" {
				ctx = contextx.WithRequestID(ctx, d.ID)
			} else {
				ctx, _ = contextx.EnsureRequestID(ctx)
			}
		}
		return next(ctx, d)
	}
}
