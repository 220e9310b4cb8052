// Package embedcache caches embedding vectors by the hash of the text they
// were computed from. L1 is in-process (ristretto), L2 is Redis, and Tiered
// combines both with de-duplicated loads.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/Keksclan/spawncache/vector"
)

// Cache is the contract shared by every layer.
type Cache interface {
	// Get retrieves a vector by key. The boolean indicates a cache hit.
	Get(ctx context.Context, key string) (vector.Vector, bool, error)

	// Set stores v under key with the given TTL. A zero TTL means the entry
	// has no automatic expiration.
	Set(ctx context.Context, key string, v vector.Vector, ttl time.Duration) error

	// GetOrSet returns the cached vector for key. On a cache miss it calls
	// loader exactly once, stores the result, and returns it.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (vector.Vector, error)) (vector.Vector, error)
}

// Key derives the cache key for text embedded by model. Switching models
// never reuses vectors computed by another one.
func Key(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
