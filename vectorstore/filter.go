package vectorstore

import (
	"errors"
	"regexp"
)

// Filter restricts points by payload. All Must conditions have to hold.
type Filter struct {
	Must []Condition `json:"must"`
}

// Condition tests one payload key. Exactly one of Match or Range is set.
//
// Match compares by value; when the payload holds a list, the condition
// holds if any element matches. Range compares numerically.
type Condition struct {
	Key   string `json:"key"`
	Match any    `json:"match,omitempty"`
	Range *Range `json:"range,omitempty"`
}

// Range bounds a numeric payload value. Nil bounds are open.
type Range struct {
	Lt  *float64 `json:"lt,omitempty"`
	Gt  *float64 `json:"gt,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
	Gte *float64 `json:"gte,omitempty"`
}

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidFilter is returned for malformed filters.
var ErrInvalidFilter = errors.New("vectorstore: invalid filter")

// MatchValue is a condition requiring payload[key] to equal (or contain) v.
func MatchValue(key string, v any) Condition {
	return Condition{Key: key, Match: v}
}

// Before is a condition requiring payload[key] < v.
func Before(key string, v float64) Condition {
	return Condition{Key: key, Range: &Range{Lt: &v}}
}

// Validate checks that every condition names a plain key and sets exactly one
// of Match or Range.
func (f Filter) Validate() error {
	for _, c := range f.Must {
		if !keyPattern.MatchString(c.Key) {
			return ErrInvalidFilter
		}
		if (c.Match == nil) == (c.Range == nil) {
			return ErrInvalidFilter
		}
	}
	return nil
}

// Matches evaluates f against p. An empty filter matches everything.
func (f Filter) Matches(p Payload) bool {
	for _, c := range f.Must {
		if !c.matches(p[c.Key]) {
			return false
		}
	}
	return true
}

func (c Condition) matches(v any) bool {
	if v == nil {
		return false
	}
	if c.Range != nil {
		x, ok := ToFloat(v)
		return ok && c.Range.contains(x)
	}
	switch list := v.(type) {
	case []any:
		for _, e := range list {
			if equal(e, c.Match) {
				return true
			}
		}
		return false
	case []string:
		for _, e := range list {
			if equal(e, c.Match) {
				return true
			}
		}
		return false
	}
	return equal(v, c.Match)
}

func (r *Range) contains(x float64) bool {
	if r.Lt != nil && !(x < *r.Lt) {
		return false
	}
	if r.Gt != nil && !(x > *r.Gt) {
		return false
	}
	if r.Lte != nil && !(x <= *r.Lte) {
		return false
	}
	if r.Gte != nil && !(x >= *r.Gte) {
		return false
	}
	return true
}

func equal(a, b any) bool {
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// ToFloat converts the numeric types a payload may hold (Go numbers or
// JSON-decoded float64) to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
