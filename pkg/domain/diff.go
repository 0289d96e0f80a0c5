package domain

import (
	"reflect"
)

// StateDiff represents the changes between two states of a run.
// It is designed to be serialized to JSON for partial updates on the client.
type StateDiff struct {
	RunID string `json:"run_id"`
	Step  int    `json:"step"`

	// Changed contains only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	Changed map[string]any `json:"changed,omitempty"`
}

// Diff calculates the difference between oldState and newState.
// A nil oldState yields every key of newState (initial load).
func Diff(runID string, step int, oldState, newState State) *StateDiff {
	delta := make(map[string]any)

	for k, newVal := range newState {
		oldVal, exists := oldState[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}
	for k := range oldState {
		if _, exists := newState[k]; !exists {
			delta[k] = nil
		}
	}

	if len(delta) == 0 {
		delta = nil
	}
	return &StateDiff{RunID: runID, Step: step, Changed: delta}
}

// IsEmpty checks if the diff contains any changes.
func (d *StateDiff) IsEmpty() bool {
	return d == nil || len(d.Changed) == 0
}
