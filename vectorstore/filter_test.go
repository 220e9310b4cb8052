package vectorstore

import "testing"

func TestFilter_Matches(t *testing.T) {
	p := Payload{
		"kind":         "coder",
		"capabilities": []any{"react", "ts"},
		"ttl_expires":  float64(100),
		"access_count": int64(3),
		"fallback":     false,
	}

	cases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty", Filter{}, true},
		{"string eq", Filter{Must: []Condition{MatchValue("kind", "coder")}}, true},
		{"string ne", Filter{Must: []Condition{MatchValue("kind", "writer")}}, false},
		{"list contains", Filter{Must: []Condition{MatchValue("capabilities", "ts")}}, true},
		{"list missing", Filter{Must: []Condition{MatchValue("capabilities", "go")}}, false},
		{"bool", Filter{Must: []Condition{MatchValue("fallback", false)}}, true},
		{"int vs float", Filter{Must: []Condition{MatchValue("access_count", 3)}}, true},
		{"range below", Filter{Must: []Condition{Before("ttl_expires", 200)}}, true},
		{"range boundary is exclusive", Filter{Must: []Condition{Before("ttl_expires", 100)}}, false},
		{"absent key", Filter{Must: []Condition{MatchValue("nope", "x")}}, false},
		{"all must hold", Filter{Must: []Condition{MatchValue("kind", "coder"), MatchValue("fallback", true)}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.f.Matches(p); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFilter_Validate(t *testing.T) {
	bad := []Filter{
		{Must: []Condition{{Key: "kind"}}},
		{Must: []Condition{{Key: "a; drop table", Match: "x"}}},
		{Must: []Condition{{Key: "k", Match: "x", Range: &Range{}}}},
	}
	for i, f := range bad {
		if err := f.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	if err := (Filter{Must: []Condition{Before("ttl_expires", 1)}}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
