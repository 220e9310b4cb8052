// Package invalidation fans record invalidations out to every process that
// shares an L2 store, so peers can drop stale entries from their L1.
package invalidation

import (
	"context"
	"errors"
	"sync"

	"github.com/Keksclan/spawncache/vectorstore"
)

// DefaultSubject is the NATS subject invalidations are published on.
const DefaultSubject = "spawncache.invalidate"

// ErrClosed is returned by a bus that has been closed.
var ErrClosed = errors.New("invalidation: bus closed")

// Message names records that must no longer be served, by id or by payload
// filter. Origin identifies the publishing cache so it can ignore its own
// messages.
type Message struct {
	Origin string              `json:"origin"`
	IDs    []string            `json:"ids,omitempty"`
	Filter *vectorstore.Filter `json:"filter,omitempty"`
}

// Handler receives invalidation messages.
type Handler func(ctx context.Context, msg Message)

// Bus publishes and delivers invalidation messages.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers h and returns a function that removes it.
	Subscribe(ctx context.Context, h Handler) (unsubscribe func() error, err error)
	Close() error
}

// LocalBus delivers messages synchronously to in-process subscribers.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[int]Handler
	next   int
	closed bool
}

// NewLocalBus creates an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]Handler)}
}

func (b *LocalBus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	hs := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ctx, msg)
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, h Handler) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.next
	b.next++
	b.subs[id] = h
	return func() error {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		return nil
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subs)
	return nil
}
