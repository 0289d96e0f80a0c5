package runtime

import "github.com/aretw0/pergola/pkg/domain"

// Interrupts evaluates an interrupt policy. It holds no state beyond the
// policy itself, so the same answer is returned for the same question.
type Interrupts struct {
	before map[string]struct{}
	after  map[string]struct{}
}

// NewInterrupts indexes a policy for lookups.
func NewInterrupts(p domain.InterruptPolicy) Interrupts {
	i := Interrupts{
		before: make(map[string]struct{}, len(p.Before)),
		after:  make(map[string]struct{}, len(p.After)),
	}
	for _, n := range p.Before {
		i.before[n] = struct{}{}
	}
	for _, n := range p.After {
		i.after[n] = struct{}{}
	}
	return i
}

// ShouldSuspend reports whether execution pauses at node in the given phase.
func (i Interrupts) ShouldSuspend(node string, phase domain.Phase) bool {
	var set map[string]struct{}
	switch phase {
	case domain.PhaseBefore:
		set = i.before
	case domain.PhaseAfter:
		set = i.after
	default:
		return false
	}
	_, ok := set[node]
	return ok
}
