// Package vector holds the fixed-dimension embedding type and the similarity
// math shared by both cache tiers.
package vector

import (
	"fmt"
	"math"
	"slices"
)

// DefaultDimension matches all-MiniLM-L6-v2 style sentence embeddings.
const DefaultDimension = 384

// Vector is an embedding. Its length must equal the system dimension.
type Vector []float32

// DimensionMismatchError reports a vector whose length differs from the
// configured system dimension. It is a data-integrity error; vectors are
// never truncated or padded to fit.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector: dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// Check returns a *DimensionMismatchError if len(v) != dim.
func Check(v Vector, dim int) error {
	if len(v) != dim {
		return &DimensionMismatchError{Want: dim, Got: len(v)}
	}
	return nil
}

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	return slices.Clone(v)
}

// Norm returns the L2 norm of v.
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns v scaled to unit length. A zero vector is returned
// unchanged.
func (v Vector) Normalize() Vector {
	n := v.Norm()
	if n == 0 {
		return v.Clone()
	}
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Cosine computes the cosine similarity of a and b in [-1, 1].
//
// Vectors of different length, empty vectors and zero-norm vectors score 0.
// The result is clamped so float rounding never escapes [-1, 1].
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}

	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return max(-1, min(1, s))
}
