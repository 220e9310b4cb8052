package embedcache

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Keksclan/spawncache/vector"
)

func mustNewL1(t *testing.T) *L1 {
	t.Helper()
	c, err := NewL1(1000, 0)
	if err != nil {
		t.Fatalf("NewL1: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestL1_GetSet(t *testing.T) {
	c := mustNewL1(t)
	ctx := t.Context()

	_, ok, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}

	want := vector.Vector{0.1, 0.2, 0.3}
	if err := c.Set(ctx, "k1", want, 0); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, ok, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// Mutating the returned copy must not leak into the cache.
	got[0] = 42
	again, _, _ := c.Get(ctx, "k1")
	if again[0] != want[0] {
		t.Fatal("cache entry was aliased")
	}
}

func TestL1_GetOrSet_LoaderCalledOnce(t *testing.T) {
	c := mustNewL1(t)
	ctx := t.Context()

	var calls atomic.Int32
	loader := func(_ context.Context) (vector.Vector, error) {
		calls.Add(1)
		return vector.Vector{1, 2}, nil
	}

	for range 2 {
		v, err := c.GetOrSet(ctx, "k", time.Minute, loader)
		if err != nil {
			t.Fatalf("GetOrSet: %v", err)
		}
		if !slices.Equal(v, vector.Vector{1, 2}) {
			t.Fatalf("got %v", v)
		}
	}

	if n := calls.Load(); n != 1 {
		t.Fatalf("loader called %d times, want 1", n)
	}
}

func TestL1_TTLExpires(t *testing.T) {
	c := mustNewL1(t)
	ctx := t.Context()

	if err := c.Set(ctx, "ttl", vector.Vector{1}, 50*time.Millisecond); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	if _, ok, _ := c.Get(ctx, "ttl"); !ok {
		t.Fatal("expected hit before TTL")
	}

	// Ristretto cleanup may need a bit of extra time.
	time.Sleep(200 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, "ttl"); ok {
		t.Fatal("expected miss after TTL")
	}
}

func TestL1_RejectsWrongDimension(t *testing.T) {
	c, err := NewL1(10, 3)
	if err != nil {
		t.Fatalf("NewL1: %v", err)
	}
	t.Cleanup(c.Close)
	ctx := t.Context()

	if err := c.Set(ctx, "empty", vector.Vector{}, 0); !errors.Is(err, ErrEmptyVector) {
		t.Fatalf("Set(empty) = %v, want ErrEmptyVector", err)
	}
	var dm *vector.DimensionMismatchError
	if err := c.Set(ctx, "short", vector.Vector{1, 2}, 0); !errors.As(err, &dm) || dm.Want != 3 || dm.Got != 2 {
		t.Fatalf("Set(short) = %v, want dimension mismatch", err)
	}
	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Fatal("rejected vector was stored")
	}

	var calls atomic.Int32
	loader := func(context.Context) (vector.Vector, error) {
		calls.Add(1)
		return vector.Vector{1, 2, 3, 4}, nil
	}
	for range 2 {
		if _, err := c.GetOrSet(ctx, "k", 0, loader); !errors.As(err, &dm) {
			t.Fatalf("GetOrSet = %v, want dimension mismatch", err)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("loader called %d times, want 2", n)
	}

	// The input is copied on Set.
	in := vector.Vector{1, 2, 3}
	if err := c.Set(ctx, "ok", in, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	in[0] = 42
	if got, _, _ := c.Get(ctx, "ok"); got[0] != 1 {
		t.Fatal("cache entry aliases the caller's slice")
	}
	if c.Dimension() != 3 {
		t.Fatalf("Dimension = %d, want 3", c.Dimension())
	}
}

func TestNewL1_NegativeDimension(t *testing.T) {
	if _, err := NewL1(10, -1); err == nil {
		t.Fatal("expected error")
	}
}

func TestKey_DependsOnModel(t *testing.T) {
	if Key("a", "text") == Key("b", "text") {
		t.Fatal("keys for different models must differ")
	}
	if Key("a", "text") != Key("a", "text") {
		t.Fatal("key must be deterministic")
	}
}
