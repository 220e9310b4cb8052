package l2

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Keksclan/spawncache/breaker"
	"github.com/Keksclan/spawncache/descriptor"
	"github.com/Keksclan/spawncache/record"
	"github.com/Keksclan/spawncache/retry"
	"github.com/Keksclan/spawncache/ttltier"
	"github.com/Keksclan/spawncache/vector"
	"github.com/Keksclan/spawncache/vectorstore"
	"github.com/Keksclan/spawncache/vectorstore/memstore"
)

type artifact struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools"`
}

var now = time.UnixMilli(1_700_000_000_000)

func newTier(t *testing.T, store vectorstore.Store) *Tier[artifact] {
	t.Helper()
	return New(Config[artifact]{
		Store:     store,
		Dimension: 2,
		Retry:     retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Breaker:   breaker.Config{FailureThreshold: 2, OpenTimeout: time.Hour},
	})
}

func mkRecord(d descriptor.Descriptor, v vector.Vector, name string) record.Record[artifact] {
	return record.New(d, v, artifact{Name: name, Tools: []string{"x"}}, 1500*time.Millisecond, now, ttltier.Default())
}

func coder(caps ...string) descriptor.Descriptor {
	return descriptor.Descriptor{Kind: "coder", Capabilities: caps}
}

// flakyStore fails every call while down is set and counts calls.
type flakyStore struct {
	*memstore.Store
	down     atomic.Bool
	searches atomic.Int32
	upserts  atomic.Int32
	updates  atomic.Int32
}

var errDown = errors.New("store down")

func newFlaky() *flakyStore { return &flakyStore{Store: memstore.New("flaky", 2)} }

func (f *flakyStore) Search(ctx context.Context, req vectorstore.SearchRequest) ([]vectorstore.ScoredPoint, error) {
	f.searches.Add(1)
	if f.down.Load() {
		return nil, vectorstore.Wrap("flaky", "search", errDown)
	}
	return f.Store.Search(ctx, req)
}

func (f *flakyStore) Upsert(ctx context.Context, points ...vectorstore.Point) error {
	f.upserts.Add(1)
	if f.down.Load() {
		return vectorstore.Wrap("flaky", "upsert", errDown)
	}
	return f.Store.Upsert(ctx, points...)
}

func (f *flakyStore) UpdatePayload(ctx context.Context, id string, fields vectorstore.Payload) error {
	f.updates.Add(1)
	if f.down.Load() {
		return vectorstore.Wrap("flaky", "update_payload", errDown)
	}
	return f.Store.UpdatePayload(ctx, id, fields)
}

func TestStoreAndLookup_RoundTrip(t *testing.T) {
	tier := newTier(t, memstore.New("t", 2))
	rec := mkRecord(coder("ts", "react"), vector.Vector{1, 0}, "frontend")
	rec.Fallback = true

	if err := tier.Store(t.Context(), rec); err != nil {
		t.Fatalf("Store: %v", err)
	}

	m, ok, err := tier.Lookup(t.Context(), coder("react"), vector.Vector{1, 0}, 0.85)
	if err != nil || !ok {
		t.Fatalf("Lookup = ok=%v err=%v", ok, err)
	}
	got := m.Record
	if got.ID != rec.ID || got.Artifact.Name != "frontend" {
		t.Fatalf("unexpected record %+v", got)
	}
	if m.Tier != record.TierL2 {
		t.Fatalf("Tier = %q", m.Tier)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("timestamps not preserved: %v / %v", got.ExpiresAt, got.CreatedAt)
	}
	if got.FactoryLatency != 1500*time.Millisecond || got.AccessCount != 1 || !got.Fallback {
		t.Fatalf("metadata not preserved: %+v", got)
	}
	if got.ContentHash != rec.ContentHash {
		t.Fatal("content hash not preserved")
	}
	if len(got.Vector) != 2 {
		t.Fatalf("vector not restored: %v", got.Vector)
	}
}

func TestCompatible(t *testing.T) {
	cases := []struct {
		name      string
		requested descriptor.Descriptor
		cached    descriptor.Descriptor
		want      bool
	}{
		{"equal", coder("ts"), coder("ts"), true},
		{"subset", coder("ts"), coder("ts", "react"), true},
		{"superset requested", coder("ts", "jest"), coder("ts"), false},
		{"kind differs", descriptor.Descriptor{Kind: "reviewer", Capabilities: []string{"ts"}}, coder("ts"), false},
		{"specialization mismatch",
			descriptor.Descriptor{Kind: "coder", Capabilities: []string{"ts"}, Specialization: "frontend"},
			descriptor.Descriptor{Kind: "coder", Capabilities: []string{"ts"}, Specialization: "backend"}, false},
		{"specialization only on one side",
			descriptor.Descriptor{Kind: "coder", Capabilities: []string{"ts"}, Specialization: "frontend"},
			coder("ts"), true},
		{"unnormalised input", coder(" react ", "ts"), coder("ts", "react"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Compatible(tc.requested, tc.cached); got != tc.want {
				t.Fatalf("Compatible = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLookup_TopOneOnlyNoReRank(t *testing.T) {
	tier := newTier(t, memstore.New("t", 2))

	// Best candidate lacks "jest"; the runner-up has it but must not be used.
	best := mkRecord(coder("ts", "react"), vector.Vector{1, 0}, "best")
	runnerUp := mkRecord(coder("ts", "react", "jest"), vector.Vector{0.99, 0.141}, "runner-up")
	for _, r := range []record.Record[artifact]{best, runnerUp} {
		if err := tier.Store(t.Context(), r); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	matches, err := tier.Search(t.Context(), vector.Vector{1, 0}, 0.85)
	if err != nil || len(matches) != 2 || matches[0].Record.ID != best.ID {
		t.Fatalf("Search = %d matches, err=%v", len(matches), err)
	}

	_, ok, err := tier.Lookup(t.Context(), coder("ts", "react", "jest"), vector.Vector{1, 0}, 0.85)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("incompatible best candidate must be a miss, not fall back to the runner-up")
	}
}

func TestSearch_FailsOpenAndTripsBreaker(t *testing.T) {
	store := newFlaky()
	store.down.Store(true)
	tier := newTier(t, store)

	for range 2 {
		m, ok, err := tier.Lookup(t.Context(), coder("ts"), vector.Vector{1, 0}, 0.5)
		if ok || len(m.Record.ID) != 0 {
			t.Fatal("failing store must produce a miss")
		}
		if !errors.Is(err, errDown) {
			t.Fatalf("expected store error for accounting, got %v", err)
		}
	}
	if tier.BreakerState() != breaker.Open {
		t.Fatalf("breaker = %s, want open", tier.BreakerState())
	}

	_, err := tier.Search(t.Context(), vector.Vector{1, 0}, 0.5)
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if n := store.searches.Load(); n != 2 {
		t.Fatalf("store searched %d times, want 2 (breaker must short-circuit)", n)
	}
}

func TestSearch_DropsWrongDimension(t *testing.T) {
	store := memstore.New("t", 3)
	tier := newTier(t, store)
	rec := mkRecord(coder("ts"), vector.Vector{1, 0, 0}, "wide")
	if err := tier.Store(t.Context(), rec); err != nil {
		t.Fatalf("Store: %v", err)
	}
	matches, err := tier.Search(t.Context(), vector.Vector{1, 0, 0}, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Fatal("3-d record must be dropped by a 2-d tier")
	}
}

func TestStore_RetriesThenFails(t *testing.T) {
	store := newFlaky()
	store.down.Store(true)
	tier := newTier(t, store)

	err := tier.Store(t.Context(), mkRecord(coder("ts"), vector.Vector{1, 0}, "x"))
	var we *StoreWriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected StoreWriteError, got %v", err)
	}
	if !errors.Is(err, errDown) {
		t.Fatal("StoreWriteError must unwrap to the store error")
	}
	if n := store.upserts.Load(); n != 3 {
		t.Fatalf("upserts = %d, want 3 attempts", n)
	}
}

func TestUpdateAccess_FireAndForget(t *testing.T) {
	store := newFlaky()
	tier := newTier(t, store)
	rec := mkRecord(coder("ts"), vector.Vector{1, 0}, "x")
	if err := tier.Store(t.Context(), rec); err != nil {
		t.Fatalf("Store: %v", err)
	}

	touched := rec.Touch(now.Add(time.Minute), ttltier.Default())
	ctx, cancel := context.WithCancel(t.Context())
	tier.UpdateAccess(ctx, touched, nil)
	cancel() // the update must survive the caller's cancellation
	if err := tier.wait(t.Context()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	got, ok, err := tier.get(t.Context(), rec.ID)
	if err != nil || !ok {
		t.Fatalf("Get = ok=%v err=%v", ok, err)
	}
	if got.AccessCount != 2 || !got.ExpiresAt.Equal(touched.ExpiresAt) {
		t.Fatalf("access not recorded: %+v", got)
	}

	store.down.Store(true)
	var failures atomic.Int32
	tier.UpdateAccess(t.Context(), touched, func(error) { failures.Add(1) })
	if err := tier.wait(t.Context()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if failures.Load() != 1 {
		t.Fatal("expected failure callback")
	}
}

func TestClose_DropsLaterAccessUpdates(t *testing.T) {
	store := newFlaky()
	tier := newTier(t, store)
	rec := mkRecord(coder("ts"), vector.Vector{1, 0}, "x")
	if err := tier.Store(t.Context(), rec); err != nil {
		t.Fatalf("Store: %v", err)
	}
	touched := rec.Touch(now.Add(time.Minute), ttltier.Default())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tier.UpdateAccess(t.Context(), touched, nil)
		}()
	}
	if err := tier.Close(t.Context()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()
	if err := tier.Close(t.Context()); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	var calls atomic.Int32
	tier.UpdateAccess(t.Context(), touched.Touch(now.Add(time.Hour), ttltier.Default()), func(error) { calls.Add(1) })
	if err := tier.wait(t.Context()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	got, ok, err := tier.get(t.Context(), rec.ID)
	if err != nil || !ok {
		t.Fatalf("get = ok=%v err=%v", ok, err)
	}
	if got.AccessCount != 2 || calls.Load() != 0 {
		t.Fatalf("update after Close was applied: %+v", got)
	}
}

func TestSweepExpired(t *testing.T) {
	tier := newTier(t, memstore.New("t", 2))
	fresh := mkRecord(coder("ts"), vector.Vector{1, 0}, "fresh")
	stale := mkRecord(coder("ts"), vector.Vector{0, 1}, "stale")
	stale.ExpiresAt = now.Add(-time.Minute)
	for _, r := range []record.Record[artifact]{fresh, stale} {
		if err := tier.Store(t.Context(), r); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	n, err := tier.SweepExpired(t.Context(), now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok, _ := tier.get(t.Context(), stale.ID); ok {
		t.Fatal("stale record survived")
	}
	if _, ok, _ := tier.get(t.Context(), fresh.ID); !ok {
		t.Fatal("fresh record was swept")
	}
}

func TestDeleteMatching(t *testing.T) {
	tier := newTier(t, memstore.New("t", 2))
	a := mkRecord(coder("ts", "react"), vector.Vector{1, 0}, "a")
	b := mkRecord(descriptor.Descriptor{Kind: "reviewer", Capabilities: []string{"ts"}}, vector.Vector{0, 1}, "b")
	for _, r := range []record.Record[artifact]{a, b} {
		if err := tier.Store(t.Context(), r); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	n, err := tier.DeleteMatching(t.Context(), FilterFor(coder("react")))
	if err != nil || n != 1 {
		t.Fatalf("DeleteMatching = %d, %v", n, err)
	}
	if _, err := tier.DeleteMatching(t.Context(), vectorstore.Filter{}); err == nil {
		t.Fatal("empty filter must be refused")
	}

	info, err := tier.Info(t.Context())
	if err != nil || info.PointsCount != 1 {
		t.Fatalf("Info = %+v, %v", info, err)
	}
}
