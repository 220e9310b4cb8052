// Package ttltier maps a record's access count to a time-to-live bucket.
package ttltier

import (
	"cmp"
	"slices"
	"time"
)

// Tier assigns TTL to records accessed at least MinAccesses times.
type Tier struct {
	MinAccesses int64         `yaml:"min_accesses" json:"min_accesses"`
	TTL         time.Duration `yaml:"ttl" json:"ttl"`
}

// Table is an ordered set of tiers, highest MinAccesses first.
type Table struct {
	tiers []Tier
}

// Default returns the hot/warm/cold table: 100 accesses for 7 days, 10 for 3
// days, otherwise 1 day.
func Default() Table {
	return New(
		Tier{MinAccesses: 100, TTL: 7 * 24 * time.Hour},
		Tier{MinAccesses: 10, TTL: 3 * 24 * time.Hour},
		Tier{MinAccesses: 0, TTL: 24 * time.Hour},
	)
}

// New builds a Table. Tiers may be given in any order; they are evaluated
// highest threshold first. Tiers with a non-positive TTL are ignored.
func New(tiers ...Tier) Table {
	out := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		if t.TTL > 0 {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b Tier) int {
		return cmp.Compare(b.MinAccesses, a.MinAccesses)
	})
	return Table{tiers: out}
}

// For returns the TTL of the first tier whose threshold accessCount meets.
// If no tier matches, the lowest tier's TTL applies; an empty table yields
// zero.
func (t Table) For(accessCount int64) time.Duration {
	for _, tier := range t.tiers {
		if accessCount >= tier.MinAccesses {
			return tier.TTL
		}
	}
	if n := len(t.tiers); n > 0 {
		return t.tiers[n-1].TTL
	}
	return 0
}

// ExpiresAt returns the expiry for a record accessed accessCount times at now.
func (t Table) ExpiresAt(now time.Time, accessCount int64) time.Time {
	return now.Add(t.For(accessCount))
}

// Tiers returns a copy of the ordered tiers.
func (t Table) Tiers() []Tier {
	return slices.Clone(t.tiers)
}

// Empty reports whether the table has no usable tier.
func (t Table) Empty() bool {
	return len(t.tiers) == 0
}
