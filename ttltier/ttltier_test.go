package ttltier

import (
	"testing"
	"time"
)

const day = 24 * time.Hour

func TestDefault(t *testing.T) {
	tbl := Default()
	cases := []struct {
		accesses int64
		want     time.Duration
	}{
		{1, day},
		{9, day},
		{10, 3 * day},
		{99, 3 * day},
		{100, 7 * day},
		{150, 7 * day},
	}
	for _, tc := range cases {
		if got := tbl.For(tc.accesses); got != tc.want {
			t.Fatalf("For(%d) = %v, want %v", tc.accesses, got, tc.want)
		}
	}
}

func TestMonotonic(t *testing.T) {
	tbl := Default()
	if tbl.For(150) < tbl.For(5) {
		t.Fatalf("hot record TTL %v shorter than cold %v", tbl.For(150), tbl.For(5))
	}
}

func TestNew_SortsHighestThresholdFirst(t *testing.T) {
	// Deliberately listed low-first; a naive scan would give 150 accesses
	// the 1-day tier.
	tbl := New(
		Tier{MinAccesses: 0, TTL: day},
		Tier{MinAccesses: 10, TTL: 3 * day},
		Tier{MinAccesses: 100, TTL: 7 * day},
	)
	if got := tbl.For(150); got != 7*day {
		t.Fatalf("For(150) = %v, want 7d", got)
	}
	tiers := tbl.Tiers()
	if tiers[0].MinAccesses != 100 || tiers[2].MinAccesses != 0 {
		t.Fatalf("unexpected order: %+v", tiers)
	}
}

func TestFor_BelowLowestThreshold(t *testing.T) {
	tbl := New(Tier{MinAccesses: 5, TTL: time.Hour}, Tier{MinAccesses: 50, TTL: 2 * time.Hour})
	if got := tbl.For(1); got != time.Hour {
		t.Fatalf("For(1) = %v, want lowest tier 1h", got)
	}
}

func TestEmpty(t *testing.T) {
	tbl := New(Tier{MinAccesses: 1, TTL: 0})
	if !tbl.Empty() {
		t.Fatal("expected empty table when all TTLs are zero")
	}
	if tbl.For(10) != 0 {
		t.Fatal("expected zero TTL from empty table")
	}
}

func TestExpiresAt(t *testing.T) {
	now := time.Unix(1_000, 0)
	got := Default().ExpiresAt(now, 1)
	if !got.Equal(now.Add(day)) {
		t.Fatalf("got %v, want %v", got, now.Add(day))
	}
}
