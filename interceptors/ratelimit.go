package interceptors

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/Keksclan/spawncache"
	"github.com/Keksclan/spawncache/descriptor"
	"github.com/Keksclan/spawncache/ratelimit"
)

// ErrRateLimited is returned by RateLimit in reject mode.
var ErrRateLimited = errors.New("factory rate limit exceeded")

// RateLimitConfig configures RateLimit. PerKind limiters are keyed by
// descriptor kind; kinds without an entry share Global. A nil limiter does
// not limit.
type RateLimitConfig struct {
	Global  *ratelimit.Limiter
	PerKind map[string]*ratelimit.Limiter
	// Reject fails fast with ErrRateLimited instead of waiting for a token.
	Reject bool
}

// RateLimit bounds how often factories run. Cache hits never reach it.
func RateLimit[A any](cfg RateLimitConfig) Interceptor[A] {
	perKind := maps.Clone(cfg.PerKind)
	limiterFor := func(kind string) *ratelimit.Limiter {
		if l, ok := perKind[kind]; ok {
			return l
		}
		return cfg.Global
	}
	return func(ctx context.Context, d descriptor.Descriptor, next spawncache.Factory[A]) (A, error) {
		l := limiterFor(d.Kind)
		if l != nil {
			if cfg.Reject {
				if !l.Allow() {
					var zero A
					return zero, ErrRateLimited
				}
			} else if err := l.Wait(ctx); err != nil {
				var zero A
				return zero, fmt.Errorf("waiting for factory rate limit: %w", err)
			}
		}
		return next(ctx, d)
	}
}
