package vector

import (
	"errors"
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	cases := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{1, 2, 3}, Vector{1, 2, 3}, 1},
		{"opposite", Vector{1, 0}, Vector{-1, 0}, -1},
		{"orthogonal", Vector{1, 0}, Vector{0, 1}, 0},
		{"scaled", Vector{1, 1}, Vector{3, 3}, 1},
		{"zero norm", Vector{0, 0}, Vector{1, 1}, 0},
		{"length mismatch", Vector{1, 0}, Vector{1, 0, 0}, 0},
		{"empty", Vector{}, Vector{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Cosine(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("Cosine = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCosine_StaysInRange(t *testing.T) {
	a := Vector{0.1, 0.2, 0.3, 0.4}
	s := Cosine(a, a)
	if s > 1 || s < -1 {
		t.Fatalf("similarity %v escaped [-1, 1]", s)
	}
}

func TestCheck(t *testing.T) {
	if err := Check(make(Vector, 4), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := Check(make(Vector, 3), 4)
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dm.Want != 4 || dm.Got != 3 {
		t.Fatalf("got want=%d got=%d", dm.Want, dm.Got)
	}
}

func TestNormalize(t *testing.T) {
	n := Vector{3, 4}.Normalize()
	if math.Abs(n.Norm()-1) > 1e-6 {
		t.Fatalf("norm = %v, want 1", n.Norm())
	}

	z := Vector{0, 0}.Normalize()
	if z.Norm() != 0 {
		t.Fatal("zero vector should stay zero")
	}
}
