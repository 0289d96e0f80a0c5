package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/schema"
)

// Engine executes compiled plans against a checkpoint store.
// It does not serialize access to a run; callers hold the run lock.
type Engine struct {
	store    ports.CheckpointStore
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
	now      func() time.Time
	maxSteps int
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger used for step tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithClock overrides the time source stamped on checkpoints and events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMaxSteps bounds the number of handler invocations per Run handle.
// Zero means unlimited.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// NewEngine creates an executor backed by store.
func NewEngine(store ports.CheckpointStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run is a handle on one run being driven by the Engine.
// It is not safe for concurrent use.
type Run struct {
	plan       *graph.Plan
	interrupts Interrupts
	latest     *domain.Checkpoint
	// passBefore names the node whose before-interrupt was already honored.
	passBefore string
	// paused is set while latest is an interrupt checkpoint this handle has not resumed.
	paused   bool
	executed int
	// failure holds the handler or routing error of the last step, until a
	// later checkpoint is saved.
	failure error
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.latest.RunID }

// Plan returns the plan the run executes.
func (r *Run) Plan() *graph.Plan { return r.plan }

// Latest returns a copy of the most recent checkpoint seen by this handle.
func (r *Run) Latest() *domain.Checkpoint { return r.latest.Clone() }

// Failure returns the handler or routing error that halted the run, or nil.
func (r *Run) Failure() error { return r.failure }

// Status is the latest checkpoint's status, or StatusFailed while the
// handle is halted on a failed step.
func (r *Run) Status() domain.RunStatus {
	if r.failure != nil {
		return domain.StatusFailed
	}
	return r.latest.Status
}

// Start creates a run: it validates the initial state, resolves the entry
// node and writes checkpoint 0.
func (e *Engine) Start(ctx context.Context, plan *graph.Plan, runID string, initial domain.State) (*Run, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return nil, fmt.Errorf("%w: %q", err, runID)
	}
	if err := schema.ValidatePresent(plan.Schema(), initial); err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}

	_, err := e.store.LoadLatest(ctx, runID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %q", domain.ErrRunExists, runID)
	case !errors.Is(err, domain.ErrRunNotFound):
		return nil, &domain.PersistenceError{Op: "load", RunID: runID, Cause: err}
	}

	run := &Run{
		plan:       plan,
		interrupts: NewInterrupts(plan.Policy()),
		latest:     &domain.Checkpoint{RunID: runID, Step: -1, State: initial.Clone()},
	}

	state := run.latest.State
	next, err := e.route(ctx, run, domain.START, state)
	switch {
	case errors.Is(err, domain.ErrDecisionPending):
		return run, e.suspend(ctx, run, domain.START, state, domain.PhaseAfter, domain.ReasonDecisionPending)
	case err != nil:
		return nil, err
	}

	if err := e.save(ctx, run, &domain.Checkpoint{
		State:  state,
		Next:   next,
		Phase:  domain.PhaseBefore,
		Status: statusFor(next),
	}); err != nil {
		return nil, err
	}
	e.logger.DebugContext(ctx, "run started", "run_id", runID, "graph", plan.Name(), "next", next)
	return run, nil
}

// Resume reopens a run from its latest checkpoint, optionally merging patch
// into its state first. A run suspended before a node proceeds into that
// node's handler; a run suspended after a node proceeds to routing.
func (e *Engine) Resume(ctx context.Context, plan *graph.Plan, runID string, patch domain.State) (*Run, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return nil, fmt.Errorf("%w: %q", err, runID)
	}

	var (
		cp  *domain.Checkpoint
		err error
	)
	if len(patch) > 0 {
		if verr := schema.ValidatePresent(plan.Schema(), patch); verr != nil {
			return nil, fmt.Errorf("patch: %w", verr)
		}
		cp, err = e.store.PatchLatest(ctx, runID, patch, plan.Fields())
	} else {
		cp, err = e.store.LoadLatest(ctx, runID)
	}
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, err
		}
		return nil, &domain.PersistenceError{Op: "load", RunID: runID, Cause: err}
	}

	run := &Run{
		plan:       plan,
		interrupts: NewInterrupts(plan.Policy()),
		latest:     cp,
	}
	if cp.Interrupted && cp.Phase == domain.PhaseBefore {
		run.passBefore = cp.Next
	}
	e.logger.DebugContext(ctx, "run resumed", "run_id", runID, "step", cp.Step, "next", cp.Next, "phase", cp.Phase)
	return run, nil
}

func (e *Engine) save(ctx context.Context, run *Run, cp *domain.Checkpoint) error {
	cp.RunID = run.latest.RunID
	cp.Step = run.latest.Step + 1
	cp.CreatedAt = e.now().UTC()
	if err := e.store.Save(ctx, cp); err != nil {
		return &domain.PersistenceError{Op: "save", RunID: cp.RunID, Cause: err}
	}
	run.latest = cp
	run.failure = nil
	return nil
}

func statusFor(next string) domain.RunStatus {
	if next == domain.END {
		return domain.StatusCompleted
	}
	return domain.StatusRunning
}

func (e *Engine) event(t domain.EventType, run *Run) domain.EventBase {
	return domain.EventBase{Timestamp: e.now(), Type: t, RunID: run.latest.RunID, Step: run.latest.Step}
}

func (e *Engine) emitNodeEnter(ctx context.Context, run *Run, node string) {
	if e.hooks.OnNodeEnter != nil {
		e.hooks.OnNodeEnter(ctx, &domain.NodeEvent{EventBase: e.event(domain.EventNodeEnter, run), Node: node})
	}
}

func (e *Engine) emitNodeLeave(ctx context.Context, run *Run, node string, d time.Duration, err error) {
	if e.hooks.OnNodeLeave != nil {
		e.hooks.OnNodeLeave(ctx, &domain.NodeEvent{EventBase: e.event(domain.EventNodeLeave, run), Node: node, Duration: d, Err: err})
	}
}

func (e *Engine) emitRoute(ctx context.Context, run *Run, from, key, to string, err error) {
	if e.hooks.OnRoute != nil {
		e.hooks.OnRoute(ctx, &domain.RouteEvent{EventBase: e.event(domain.EventRoute, run), From: from, Key: key, To: to, Err: err})
	}
}

func (e *Engine) emitSuspend(ctx context.Context, run *Run, node string, reason domain.SuspendReason) {
	if e.hooks.OnSuspend != nil {
		e.hooks.OnSuspend(ctx, &domain.RunEvent{EventBase: e.event(domain.EventSuspend, run), Node: node, Reason: reason})
	}
}

func (e *Engine) emitComplete(ctx context.Context, run *Run) {
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(ctx, &domain.RunEvent{EventBase: e.event(domain.EventComplete, run)})
	}
}
