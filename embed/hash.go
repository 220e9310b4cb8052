package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/Keksclan/spawncache/vector"
)

// Hash is a deterministic lexical embedder based on feature hashing. Each
// token is hashed to a dimension and a sign, weighted by 1+log(tf), and the
// result is L2-normalised. Identical text always produces the identical
// vector, and texts sharing most tokens land close together.
//
// It needs no network and never fails, which makes it the fallback when the
// real embedder is unavailable.
type Hash struct {
	dim int
}

// NewHash returns a Hash embedder producing vectors of length dim.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = vector.DefaultDimension
	}
	return &Hash{dim: dim}
}

// Dimension returns the output dimension.
func (h *Hash) Dimension() int { return h.dim }

// Embed returns the hashed vector for text. It only fails if ctx is already
// done.
func (h *Hash) Embed(ctx context.Context, text string) (vector.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Provider: "hash", Err: err}
	}
	return h.Vector(text), nil
}

// Vector is Embed without a context.
func (h *Hash) Vector(text string) vector.Vector {
	tf := make(map[string]int)
	for _, tok := range tokenize(text) {
		tf[tok]++
	}

	out := make(vector.Vector, h.dim)
	for tok, n := range tf {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()

		idx := int(sum % uint64(h.dim))
		w := float32(1 + math.Log(float64(n)))
		if sum>>63 == 1 {
			w = -w
		}
		out[idx] += w
	}
	return out.Normalize()
}

// tokenize lowercases text and splits it on anything that is not a letter or
// digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
