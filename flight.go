package spawncache

import (
	"context"
	"errors"
)

// errAbandoned marks a shared factory call that was cancelled because every
// caller waiting on it had gone.
var errAbandoned = errors.New("spawncache: factory call abandoned")

// flight is the context shared by all callers coalesced on one content hash.
// It carries the first caller's values but none of its cancellation, and is
// cancelled only when the last waiter leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// join registers the caller as a waiter on hash and returns the shared
// context plus the func to call once the caller stops waiting.
func (c *Cache[A]) join(ctx context.Context, hash string) (context.Context, func()) {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()

	f, ok := c.flights[hash]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[hash] = f
	}
	f.waiters++

	return f.ctx, func() {
		c.flightsMu.Lock()
		defer c.flightsMu.Unlock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
			if c.flights[hash] == f {
				delete(c.flights, hash)
			}
		}
	}
}
