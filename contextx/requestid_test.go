package contextx

import "testing"

func TestWithRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(t.Context(), "req-abc-123")
	got := RequestIDFromContext(ctx)
	if got != "req-abc-123" {
		t.Fatalf("got %q, want %q", got, "req-abc-123")
	}
}

func TestRequestIDFromContextMissing(t *testing.T) {
	got := RequestIDFromContext(t.Context())
	if got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(t.Context())
	if id == "" || RequestIDFromContext(ctx) != id {
		t.Fatalf("expected generated id in context, got %q", id)
	}

	again, id2 := EnsureRequestID(ctx)
	if id2 != id || again != ctx {
		t.Fatal("existing request id must be kept")
	}
}
