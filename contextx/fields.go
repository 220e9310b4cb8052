package contextx

import (
	"context"

	"go.uber.org/zap"
)

// Fields returns the request-scoped log fields found in ctx. Empty values are
// omitted.
func Fields(ctx context.Context) []zap.Field {
	var fs []zap.Field
	if id := RequestIDFromContext(ctx); id != "" {
		fs = append(fs, zap.String("request_id", id))
	}
	if c, ok := CallerFromContext(ctx); ok {
		if c.Service != "" {
			fs = append(fs, zap.String("caller", c.Service))
		}
		if c.Tenant != "" {
			fs = append(fs, zap.String("tenant", c.Tenant))
		}
		if c.Session != "" {
			fs = append(fs, zap.String("session", c.Session))
		}
	}
	return fs
}

// Logger returns l enriched with the fields from ctx.
func Logger(ctx context.Context, l *zap.Logger) *zap.Logger {
	fs := Fields(ctx)
	if len(fs) == 0 {
		return l
	}
	return l.With(fs...)
}
