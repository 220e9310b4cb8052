package contextx

import "context"

// Caller identifies who asked for an artifact. It only feeds logs and spans;
// it never takes part in cache keys.
//
// Example:
//
//	ctx = contextx.WithCaller(ctx, contextx.Caller{Service: "planner", Session: "s-17"})
type Caller struct {
	Service string
	Tenant  string
	Session string
}

// WithCaller returns a derived context that carries c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext extracts the Caller stored in ctx.
// The boolean return value indicates whether a Caller was present.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}
