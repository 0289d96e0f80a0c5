package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrRunNotFound is returned when a run ID has no checkpoints in the store.
var ErrRunNotFound = errors.New("run not found")

// ErrCheckpointNotFound is returned when a run exists but has no checkpoint at the requested step.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ErrRunExists is returned when starting a run whose ID already has checkpoints.
var ErrRunExists = errors.New("run already exists")

// ErrCheckpointConflict is returned when a save does not advance the run's step index.
var ErrCheckpointConflict = errors.New("checkpoint step is not newer than the latest checkpoint")

// ErrDecisionPending is returned by a Router that cannot choose a branch until
// external input is patched into the state. The executor suspends instead of failing.
var ErrDecisionPending = errors.New("decision pending")

// ErrStepLimit is returned when a run exceeds the configured step budget.
var ErrStepLimit = errors.New("step limit exceeded")

// ErrInvalidRunID is returned for empty or malformed run identifiers.
var ErrInvalidRunID = errors.New("invalid run id")

// IsNotFound reports whether err is one of the recoverable not-found conditions.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrCheckpointNotFound)
}

// IsStepFailure reports whether err is a handler or routing failure, which
// halts a run at its last durable checkpoint.
func IsStepFailure(err error) bool {
	var herr *HandlerError
	var rerr *RoutingError
	return errors.As(err, &herr) || errors.As(err, &rerr)
}

// CompileError aggregates every problem found while validating a graph definition.
type CompileError struct {
	Graph  string
	Errors []error
}

func (e *CompileError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	prefix := "compile"
	if e.Graph != "" {
		prefix = fmt.Sprintf("compile %q", e.Graph)
	}
	return fmt.Sprintf("%s: %d error(s):\n- %s", prefix, len(e.Errors), strings.Join(msgs, "\n- "))
}

func (e *CompileError) Unwrap() []error {
	return e.Errors
}

// RoutingError is returned when a router yields a key absent from its branch table,
// or fails outright.
type RoutingError struct {
	Node     string
	Key      string
	Branches []string
	Cause    error
}

// NewRoutingError builds a RoutingError listing the known branch keys in order.
func NewRoutingError(node, key string, table map[string]string, cause error) *RoutingError {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &RoutingError{Node: node, Key: key, Branches: keys, Cause: cause}
}

func (e *RoutingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("routing from %q: %v", e.Node, e.Cause)
	}
	return fmt.Sprintf("routing from %q: key %q not in branch table %v", e.Node, e.Key, e.Branches)
}

func (e *RoutingError) Unwrap() error {
	return e.Cause
}

// HandlerError wraps a failure returned by a node handler.
type HandlerError struct {
	Node  string
	Step  int
	Cause error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("node %q failed at step %d: %v", e.Node, e.Step, e.Cause)
}

func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// PersistenceError wraps a checkpoint store failure.
type PersistenceError struct {
	Op    string
	RunID string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint %s for run %q: %v", e.Op, e.RunID, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
