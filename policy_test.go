package spawncache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Keksclan/spawncache/descriptor"
	"github.com/Keksclan/spawncache/policy"
	"github.com/Keksclan/spawncache/vector"
	"github.com/Keksclan/spawncache/vectorstore/memstore"
)

func TestPolicy_BypassAlwaysCallsFactory(t *testing.T) {
	c := newCache(t, nil, nil, WithPolicies(policy.NewResolver(
		policy.Group("debug").Prefix("debug").Policy(policy.Policy{Bypass: true}),
	)))
	var f countingFactory
	d := descriptor.Descriptor{Kind: "debug-shell", Capabilities: []string{"sh"}}

	for range 2 {
		if _, info := mustResolve(t, c, d, f.fn("D")); info.Cached {
			t.Fatalf("bypassed kind was served from cache: %+v", info)
		}
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("factory calls = %d, want 2", n)
	}
	if n := c.Stats().L1Entries; n != 0 {
		t.Fatalf("L1Entries = %d, want 0", n)
	}

	// Other kinds are still cached.
	mustResolve(t, c, tsReact, f.fn("A"))
	if _, info := mustResolve(t, c, tsReact, f.fn("A")); !info.Cached {
		t.Fatal("unmatched kind must still be cached")
	}
}

func TestPolicy_LocalOnlySkipsL2(t *testing.T) {
	store := memstore.New("local", vector.DefaultDimension)
	c := newCache(t, store, nil, WithPolicies(policy.NewResolver(
		policy.Group("coders").Exact("coder").Policy(policy.Policy{LocalOnly: true}),
	)))
	var f countingFactory

	mustResolve(t, c, tsReact, f.fn("A"))
	if _, info := mustResolve(t, c, tsReact, f.fn("A")); info.Tier != TierL1 {
		t.Fatalf("tier = %q, want l1", info.Tier)
	}
	if _, err := c.Warm(t.Context(), tsReactJest, "warm"); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	info, err := store.CollectionInfo(t.Context())
	if err != nil {
		t.Fatalf("CollectionInfo: %v", err)
	}
	if info.PointsCount != 0 {
		t.Fatalf("L2 holds %d points, want 0", info.PointsCount)
	}
}

func TestPolicy_MinSimilarityOverridesGood(t *testing.T) {
	base := descriptor.Descriptor{Kind: "reviewer", Capabilities: []string{"go"}}
	near := descriptor.Descriptor{Kind: "reviewer", Capabilities: []string{"go"}, Name: "near"}
	e := tableEmbedder(t, map[*descriptor.Descriptor]vector.Vector{
		&base: {1, 0},
		&near: unitAt(0.9),
	})

	loose := newCache(t, nil, e, WithDimension(2))
	strict := newCache(t, nil, e, WithDimension(2), WithPolicies(policy.NewResolver(
		policy.Group("review").Exact("reviewer").Policy(policy.Policy{MinSimilarity: 0.95}),
	)))

	var f countingFactory
	for _, c := range []*Cache[string]{loose, strict} {
		mustResolve(t, c, base, f.fn("R"))
	}
	if _, info := mustResolve(t, loose, near, f.fn("R")); !info.Cached {
		t.Fatal("0.9 similarity must hit with the default Good threshold")
	}
	if _, info := mustResolve(t, strict, near, f.fn("R")); info.Cached {
		t.Fatalf("0.9 similarity must miss under a 0.95 policy, got %+v", info)
	}
}

func TestPolicy_FactoryTimeout(t *testing.T) {
	c := newCache(t, nil, nil, WithPolicies(policy.NewResolver(
		policy.Group("slow").Exact("coder").Policy(policy.Policy{FactoryTimeout: 10 * time.Millisecond}),
	)))

	_, _, err := c.Resolve(t.Context(), tsReact, func(ctx context.Context, _ descriptor.Descriptor) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if s := c.Stats(); s.FactoryErrors != 1 {
		t.Fatalf("FactoryErrors = %d, want 1", s.FactoryErrors)
	}
}
