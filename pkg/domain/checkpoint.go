package domain

import (
	"strings"
	"time"
)

// RunStatus summarizes where a run stands after its latest checkpoint.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSuspended RunStatus = "suspended"
	StatusCompleted RunStatus = "completed"
	// StatusFailed is reported, never stored, for a run whose pending step
	// failed in its handler or router. The latest checkpoint is unchanged and
	// resuming retries that step.
	StatusFailed RunStatus = "failed"
)

// Phase locates a suspension relative to the pending node's handler.
type Phase string

const (
	// PhaseBefore means the pending node's handler has not run yet.
	PhaseBefore Phase = "before"
	// PhaseAfter means the pending node's handler has run and merged;
	// only the choice of successor remains.
	PhaseAfter Phase = "after"
)

// SuspendReason explains why a run stopped at a checkpoint.
type SuspendReason string

const (
	ReasonInterruptBefore SuspendReason = "interrupt_before"
	ReasonInterruptAfter  SuspendReason = "interrupt_after"
	ReasonDecisionPending SuspendReason = "decision_pending"
)

// Checkpoint is an immutable snapshot of a run between steps.
type Checkpoint struct {
	RunID string `json:"run_id"`
	// Step increases by one with every checkpoint written for the run.
	Step  int   `json:"step"`
	State State `json:"state"`
	// Next is the node whose step is pending. END once the run completed.
	Next        string        `json:"next"`
	Phase       Phase         `json:"phase"`
	Interrupted bool          `json:"interrupted"`
	Reason      SuspendReason `json:"reason,omitempty"`
	Status      RunStatus     `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = c.State.Clone()
	return &out
}

// Completed reports whether the run reached END.
func (c *Checkpoint) Completed() bool {
	return c.Next == END
}

// ValidateRunID rejects identifiers that cannot be used as store keys.
func ValidateRunID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidRunID
	}
	if strings.ContainsAny(id, "/\\\x00") || id == "." || id == ".." {
		return ErrInvalidRunID
	}
	return nil
}
