// Package embed turns descriptor text into vectors.
//
// Three implementations are provided: [OpenAI] calls any OpenAI-compatible
// embeddings endpoint, [Hash] is a deterministic local embedder used as the
// degraded-mode fallback, and [Cached] memoises another embedder through an
// embedcache layer.
package embed

import (
	"context"
	"fmt"

	"github.com/Keksclan/spawncache/vector"
)

// Embedder maps text to a vector of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) (vector.Vector, error)
}

// Dimensioner is implemented by embedders that know their output dimension
// up front. The cache rejects an embedder whose declared dimension differs
// from the configured one.
type Dimensioner interface {
	Dimension() int
}

// Func adapts a function to the Embedder interface.
type Func func(ctx context.Context, text string) (vector.Vector, error)

// Embed calls f.
func (f Func) Embed(ctx context.Context, text string) (vector.Vector, error) {
	return f(ctx, text)
}

// Error wraps any failure to produce an embedding.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embed: %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
