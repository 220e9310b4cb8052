// Package l1 implements the in-process similarity tier: a bounded LRU map of
// records with a per-entry TTL, searched by brute-force cosine similarity.
//
// The scan in [Tier.FindBestMatch] is O(n) in live entries. L1 is meant to
// hold hundreds to low thousands of records; larger working sets belong in L2.
package l1

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Keksclan/spawncache/record"
	"github.com/Keksclan/spawncache/vector"
)

const (
	// DefaultMaxEntries bounds L1 when no size is configured.
	DefaultMaxEntries = 1000
	// DefaultTTL is the L1 entry lifetime when none is configured.
	DefaultTTL = time.Hour
)

// Config controls an L1 tier.
type Config struct {
	// MaxEntries is the capacity; the least recently used entry is evicted
	// when it is exceeded.
	MaxEntries int

	// TTL is the per-entry lifetime measured from the last insert.
	TTL time.Duration

	// OnEvict, when set, is called with the id of every entry that leaves
	// the tier (capacity, expiry or removal). It must not call back into the
	// tier.
	OnEvict func(id string)

	// Now is the clock used for record expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// slot wraps a record with its insertion sequence so ties can be broken
// deterministically in favour of the most recently inserted record.
type slot[A any] struct {
	rec record.Record[A]
	seq uint64
}

// Tier is the L1 cache. All methods are safe for concurrent use.
type Tier[A any] struct {
	lru *expirable.LRU[string, *slot[A]]

	// byHash maps content hash -> record id for exact short-circuits.
	byHash sync.Map

	seq atomic.Uint64

	// mu serialises mutations so a concurrent Touch cannot resurrect a
	// record that Remove just dropped. Reads never take it.
	mu sync.Mutex

	now func() time.Time
}

// New creates an L1 tier.
func New[A any](cfg Config) *Tier[A] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	t := &Tier[A]{now: cfg.Now}
	t.lru = expirable.NewLRU(cfg.MaxEntries, func(id string, s *slot[A]) {
		t.byHash.CompareAndDelete(s.rec.ContentHash, id)
		if cfg.OnEvict != nil {
			cfg.OnEvict(id)
		}
	}, cfg.TTL)
	return t
}

// Insert stores rec, evicting the least recently used entry if the tier is
// full.
func (t *Tier[A]) Insert(rec record.Record[A]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.put(&slot[A]{rec: rec, seq: t.seq.Add(1)})
}

// Touch replaces the stored copy of rec.ID with rec and marks it most
// recently used. The original insertion sequence is kept. It reports false if
// the id is no longer present.
func (t *Tier[A]) Touch(rec record.Record[A]) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, ok := t.lru.Peek(rec.ID)
	if !ok {
		return false
	}
	t.put(&slot[A]{rec: rec, seq: old.seq})
	return true
}

func (t *Tier[A]) put(s *slot[A]) {
	t.lru.Add(s.rec.ID, s)
	if s.rec.ContentHash != "" {
		t.byHash.Store(s.rec.ContentHash, s.rec.ID)
	}
}

// Get returns the live record with the given id without changing recency.
func (t *Tier[A]) Get(id string) (record.Record[A], bool) {
	s, ok := t.lru.Peek(id)
	if !ok || s.rec.Expired(t.now()) {
		var zero record.Record[A]
		return zero, false
	}
	return s.rec, true
}

// FindByHash returns the live record whose descriptor content hash equals
// hash.
func (t *Tier[A]) FindByHash(hash string) (record.Record[A], bool) {
	v, ok := t.byHash.Load(hash)
	if !ok {
		var zero record.Record[A]
		return zero, false
	}
	rec, ok := t.Get(v.(string))
	if !ok || rec.ContentHash != hash {
		var zero record.Record[A]
		return zero, false
	}
	return rec, true
}

// FindBestMatch scans every live entry and returns the highest cosine
// similarity at or above threshold. Ties go to the most recently inserted
// record. Recency is not updated; callers confirm a hit with [Tier.Touch].
func (t *Tier[A]) FindBestMatch(v vector.Vector, threshold float64) (record.Match[A], bool) {
	now := t.now()

	var (
		best    *slot[A]
		bestSim float64
	)
	for _, s := range t.lru.Values() {
		if s.rec.Expired(now) {
			continue
		}
		sim := vector.Cosine(v, s.rec.Vector)
		if sim < threshold {
			continue
		}
		if best == nil || sim > bestSim || (sim == bestSim && s.seq > best.seq) {
			best, bestSim = s, sim
		}
	}

	if best == nil {
		return record.Match[A]{}, false
	}
	return record.Match[A]{Record: best.rec, Score: bestSim, Tier: record.TierL1}, true
}

// Remove drops the entry with the given id.
func (t *Tier[A]) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Remove(id)
}

// RemoveFunc drops every entry for which match returns true and reports how
// many were removed.
func (t *Tier[A]) RemoveFunc(match func(record.Record[A]) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.lru.Values() {
		if match(s.rec) && t.lru.Remove(s.rec.ID) {
			n++
		}
	}
	return n
}

// Len returns the number of entries, including ones whose TTL has elapsed
// but which have not been reaped yet.
func (t *Tier[A]) Len() int {
	return t.lru.Len()
}

// Purge removes every entry.
func (t *Tier[A]) Purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Purge()
}
