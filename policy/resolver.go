// Package policy maps descriptor kinds to per-kind cache policies using
// exact, prefix and regex rules.
package policy

// Resolver holds a set of kind groups and resolves a descriptor kind to the
// best-matching group and its policy. A nil Resolver matches nothing.
type Resolver struct {
	groups []*GroupBuilder
}

// NewResolver creates a Resolver from the supplied group builders.
func NewResolver(groups ...*GroupBuilder) *Resolver {
	return &Resolver{groups: groups}
}

// Resolve finds the best-matching group for kind.
//
// Priority rules:
//   - Exact matches beat prefix matches, which beat regex matches.
//   - Among matches of the same kind the longer match wins.
//   - When two matches have equal kind and length the group that was
//     registered first wins.
//
// Groups without a policy never match. If no group matches, ok is false.
func (res *Resolver) Resolve(kind string) (groupName string, pol *Policy, ok bool) {
	if res == nil {
		return "", nil, false
	}
	bestKind := matchKind(-1)
	bestLen := -1

	for _, g := range res.groups {
		if g.policy == nil {
			continue
		}
		for _, r := range g.rules {
			matched, mLen := r.match(kind)
			if !matched {
				continue
			}
			better := bestKind < 0 ||
				r.kind < bestKind ||
				(r.kind == bestKind && mLen > bestLen)
			if better {
				bestKind = r.kind
				bestLen = mLen
				groupName = g.name
				pol = g.policy
				ok = true
			}
		}
	}
	return groupName, pol, ok
}

// For returns the policy for kind, or the zero Policy when nothing matches.
func (res *Resolver) For(kind string) Policy {
	if _, p, ok := res.Resolve(kind); ok {
		return *p
	}
	return Policy{}
}
