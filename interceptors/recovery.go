package interceptors

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Keksclan/spawncache"
	"github.com/Keksclan/spawncache/contextx"
	"github.com/Keksclan/spawncache/descriptor"
)

// PanicError is returned by Recovery when the factory panicked.
type PanicError struct {
	Kind  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("factory for %q panicked: %v", e.Kind, e.Value)
}

// Recovery turns a factory panic into a *PanicError. Without it the cache
// re-raises the panic in every caller waiting on that factory call.
func Recovery[A any](logger *zap.Logger) Interceptor[A] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, d descriptor.Descriptor, next spawncache.Factory[A]) (a A, err error) {
		defer func() {
			if r := recover(); r != nil {
				contextx.Logger(ctx, logger).Error("factory panicked",
					zap.String("kind", d.Kind), zap.Any("panic", r), zap.Stack("stack"))
				var zero A
				a, err = zero, &PanicError{Kind: d.Kind, Value: r}
			}
		}()
		return next(ctx, d)
	}
}
