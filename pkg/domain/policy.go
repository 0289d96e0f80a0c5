package domain

import "sort"

// InterruptPolicy names the nodes at which execution pauses for review.
// It is fixed once attached to a compiled plan.
type InterruptPolicy struct {
	Before []string `json:"before,omitempty" yaml:"before,omitempty"`
	After  []string `json:"after,omitempty" yaml:"after,omitempty"`
}

// Nodes returns every node named by the policy, deduplicated and sorted.
func (p InterruptPolicy) Nodes() []string {
	seen := make(map[string]struct{}, len(p.Before)+len(p.After))
	for _, n := range p.Before {
		seen[n] = struct{}{}
	}
	for _, n := range p.After {
		seen[n] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
