// Package record defines the cache unit shared by the L1 and L2 tiers.
package record

import (
	"time"

	"github.com/google/uuid"

	"github.com/Keksclan/spawncache/descriptor"
	"github.com/Keksclan/spawncache/ttltier"
	"github.com/Keksclan/spawncache/vector"
)

// Tier identifies which cache level produced a result.
type Tier string

const (
	TierNone Tier = ""
	TierL1   Tier = "l1"
	TierL2   Tier = "l2"
)

// Record is a cached artifact together with the embedding and descriptor it
// was created for.
//
// Records are treated as values: hits produce an updated copy via
// [Record.Touch] rather than mutating a record other goroutines may be
// reading.
type Record[A any] struct {
	ID          string
	Vector      vector.Vector
	Descriptor  descriptor.Descriptor
	Artifact    A
	ContentHash string

	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	FactoryLatency time.Duration
	ExpiresAt      time.Time

	// Fallback is set when Vector came from the hash embedder rather than
	// the configured model.
	Fallback bool
}

// New creates a record for a freshly produced artifact. The record starts
// with one access and the TTL tiers' entry-level expiry.
func New[A any](d descriptor.Descriptor, v vector.Vector, artifact A, latency time.Duration, now time.Time, tiers ttltier.Table) Record[A] {
	ttl := tiers.For(1)
	if ttl <= 0 {
		ttl = time.Nanosecond
	}
	return Record[A]{
		ID:             uuid.NewString(),
		Vector:         v,
		Descriptor:     d.Stable(),
		Artifact:       artifact,
		ContentHash:    d.ContentHash(),
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    1,
		FactoryLatency: latency,
		ExpiresAt:      now.Add(ttl),
	}
}

// Touch returns a copy of r with one more access recorded at now and its
// expiry recomputed from tiers. Expiry never moves before CreatedAt.
func (r Record[A]) Touch(now time.Time, tiers ttltier.Table) Record[A] {
	r.AccessCount++
	r.LastAccessedAt = now
	if ttl := tiers.For(r.AccessCount); ttl > 0 {
		r.ExpiresAt = now.Add(ttl)
	}
	if !r.ExpiresAt.After(r.CreatedAt) {
		r.ExpiresAt = r.CreatedAt.Add(time.Nanosecond)
	}
	return r
}

// Expired reports whether r's TTL has elapsed at now.
func (r Record[A]) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Match is a transient lookup result.
type Match[A any] struct {
	Record Record[A]
	Score  float64
	Tier   Tier
}
