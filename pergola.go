package pergola

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/aretw0/pergola/internal/runtime"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/runs"
	"github.com/aretw0/pergola/pkg/schema"
	"github.com/google/uuid"
)

// Version is the library version, overridable at link time.
var Version = "0.1.0-dev"

// Engine is the high-level entry point for the Pergola library.
// It binds one compiled plan to a checkpoint store and serializes writes per run.
type Engine struct {
	plan     *graph.Plan
	store    ports.CheckpointStore
	runs     *runs.Manager
	runtime  *runtime.Engine
	locker   ports.DistributedLocker
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	now      func() time.Time
	newRunID func() string
	maxSteps int
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets the checkpoint store. Defaults to an in-memory store.
func WithStore(store ports.CheckpointStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithMaxSteps bounds the handler invocations of a single Start or Resume call.
// Zero means unlimited.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithRunIDGenerator sets how run IDs are minted when the caller passes none.
// Defaults to random UUIDs.
func WithRunIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newRunID = fn
	}
}

// WithClock overrides the time source stamped on checkpoints and events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLocker extends per-run write serialization across processes.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// New creates an Engine executing plan.
func New(plan *graph.Plan, opts ...Option) (*Engine, error) {
	if plan == nil {
		return nil, errors.New("plan is required")
	}
	eng := &Engine{plan: plan}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.store == nil {
		eng.store = memory.NewStore()
	}
	if eng.logger == nil {
		eng.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if eng.now == nil {
		eng.now = time.Now
	}
	if eng.newRunID == nil {
		eng.newRunID = uuid.NewString
	}
	eng.logger = eng.logger.With("graph", plan.Name())

	managerOpts := []runs.Option{runs.WithLogger(eng.logger)}
	if eng.locker != nil {
		managerOpts = append(managerOpts, runs.WithLocker(eng.locker))
	}
	eng.runs = runs.NewManager(eng.store, managerOpts...)

	eng.runtime = runtime.NewEngine(eng.store,
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithClock(eng.now),
		runtime.WithMaxSteps(eng.maxSteps),
	)
	return eng, nil
}

// Plan returns the compiled plan the engine executes.
func (e *Engine) Plan() *graph.Plan { return e.plan }

// Store returns the checkpoint store.
func (e *Engine) Store() ports.CheckpointStore { return e.store }

// Result summarizes where a Start or Resume call left the run.
type Result struct {
	RunID       string               `json:"run_id"`
	Status      domain.RunStatus     `json:"status"`
	Step        int                  `json:"step"`
	Next        string               `json:"next,omitempty"`
	Interrupted bool                 `json:"interrupted"`
	Reason      domain.SuspendReason `json:"reason,omitempty"`
	State       domain.State         `json:"state"`
	Events      []domain.StepResult  `json:"events,omitempty"`
}

// Snapshot is a read-only view of one checkpoint.
type Snapshot struct {
	RunID       string               `json:"run_id"`
	Step        int                  `json:"step"`
	State       domain.State         `json:"state"`
	Next        string               `json:"next"`
	Phase       domain.Phase         `json:"phase,omitempty"`
	Interrupted bool                 `json:"interrupted"`
	Reason      domain.SuspendReason `json:"reason,omitempty"`
	Status      domain.RunStatus     `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
}

// SnapshotOf converts a stored checkpoint to its public view.
func SnapshotOf(cp *domain.Checkpoint) *Snapshot {
	return &Snapshot{
		RunID:       cp.RunID,
		Step:        cp.Step,
		State:       cp.State.Clone(),
		Next:        cp.Next,
		Phase:       cp.Phase,
		Interrupted: cp.Interrupted,
		Reason:      cp.Reason,
		Status:      cp.Status,
		CreatedAt:   cp.CreatedAt,
	}
}

// Start creates a run and drives it until it completes or suspends.
// An empty runID is replaced by a generated one.
// When a step fails after the run exists, the Result still describes the
// last durable checkpoint, which a later Resume retries from. Its Status is
// failed when a handler or router caused the stop.
func (e *Engine) Start(ctx context.Context, runID string, initial domain.State) (*Result, error) {
	run, err := e.StartRun(ctx, runID, initial)
	if err != nil {
		return nil, err
	}
	defer run.Close()
	return run.drive(ctx)
}

// Resume merges patch into the latest checkpoint of a suspended run and
// drives it until it completes or suspends again. A nil patch resumes as is.
func (e *Engine) Resume(ctx context.Context, runID string, patch domain.State) (*Result, error) {
	run, err := e.ResumeRun(ctx, runID, patch)
	if err != nil {
		return nil, err
	}
	defer run.Close()
	return run.drive(ctx)
}

// Stream starts a run and yields one result per step, ending with the
// Completed or Suspended result. An error ends the sequence.
func (e *Engine) Stream(ctx context.Context, runID string, initial domain.State) iter.Seq2[domain.StepResult, error] {
	return func(yield func(domain.StepResult, error) bool) {
		run, err := e.StartRun(ctx, runID, initial)
		if err != nil {
			yield(domain.StepResult{}, err)
			return
		}
		defer run.Close()
		for res, err := range run.Steps(ctx) {
			if !yield(res, err) {
				return
			}
		}
	}
}

// StreamResume is Resume as a step sequence.
func (e *Engine) StreamResume(ctx context.Context, runID string, patch domain.State) iter.Seq2[domain.StepResult, error] {
	return func(yield func(domain.StepResult, error) bool) {
		run, err := e.ResumeRun(ctx, runID, patch)
		if err != nil {
			yield(domain.StepResult{}, err)
			return
		}
		defer run.Close()
		for res, err := range run.Steps(ctx) {
			if !yield(res, err) {
				return
			}
		}
	}
}

// StartRun creates a run and returns a handle holding its write lock.
// The caller steps it manually and must Close it.
func (e *Engine) StartRun(ctx context.Context, runID string, initial domain.State) (*Run, error) {
	if runID == "" {
		runID = e.newRunID()
	}
	release, err := e.runs.Acquire(ctx, runID)
	if err != nil {
		return nil, err
	}
	rt, err := e.runtime.Start(ctx, e.plan, runID, initial)
	if err != nil {
		release()
		return nil, err
	}
	e.logger.InfoContext(ctx, "run started", "run_id", runID)
	return &Run{engine: e, rt: rt, release: release}, nil
}

// ResumeRun reopens a run and returns a handle holding its write lock.
// The caller must Close it.
func (e *Engine) ResumeRun(ctx context.Context, runID string, patch domain.State) (*Run, error) {
	release, err := e.runs.Acquire(ctx, runID)
	if err != nil {
		return nil, err
	}
	rt, err := e.runtime.Resume(ctx, e.plan, runID, patch)
	if err != nil {
		release()
		return nil, err
	}
	e.logger.InfoContext(ctx, "run resumed", "run_id", runID, "patched", len(patch) > 0)
	return &Run{engine: e, rt: rt, release: release}, nil
}

// State returns the latest checkpoint of the run.
func (e *Engine) State(ctx context.Context, runID string) (*Snapshot, error) {
	cp, err := e.runs.Latest(ctx, runID)
	if err != nil {
		return nil, wrapLoad(runID, err)
	}
	return SnapshotOf(cp), nil
}

// PatchState merges patch into the latest checkpoint without advancing the run,
// and reports which fields changed.
func (e *Engine) PatchState(ctx context.Context, runID string, patch domain.State) (*domain.StateDiff, error) {
	if err := schema.ValidatePresent(e.plan.Schema(), patch); err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}

	var diff *domain.StateDiff
	err := e.runs.WithLock(ctx, runID, func(ctx context.Context) error {
		before, err := e.store.LoadLatest(ctx, runID)
		if err != nil {
			return wrapLoad(runID, err)
		}
		after, err := e.store.PatchLatest(ctx, runID, patch, e.plan.Fields())
		if err != nil {
			return &domain.PersistenceError{Op: "patch", RunID: runID, Cause: err}
		}
		diff = domain.Diff(runID, after.Step, before.State, after.State)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "state patched", "run_id", runID, "fields", len(diff.Changed))
	return diff, nil
}

// Checkpoint loads the checkpoint recorded at step.
func (e *Engine) Checkpoint(ctx context.Context, runID string, step int) (*Snapshot, error) {
	cp, err := e.store.LoadAt(ctx, runID, step)
	if err != nil {
		return nil, wrapLoad(runID, err)
	}
	return SnapshotOf(cp), nil
}

// History lists every checkpoint of the run in step order.
func (e *Engine) History(ctx context.Context, runID string) ([]*Snapshot, error) {
	history, err := e.store.History(ctx, runID)
	if err != nil {
		return nil, wrapLoad(runID, err)
	}
	out := make([]*Snapshot, len(history))
	for i, cp := range history {
		out[i] = SnapshotOf(cp)
	}
	return out, nil
}

// Runs lists known run IDs.
func (e *Engine) Runs(ctx context.Context) ([]string, error) {
	return e.runs.List(ctx)
}

// Delete removes every checkpoint of the run.
func (e *Engine) Delete(ctx context.Context, runID string) error {
	return e.runs.Delete(ctx, runID)
}

func wrapLoad(runID string, err error) error {
	if domain.IsNotFound(err) {
		return err
	}
	return &domain.PersistenceError{Op: "load", RunID: runID, Cause: err}
}

// Run is a handle on one run holding its write lock.
// It is not safe for concurrent use.
type Run struct {
	engine  *Engine
	rt      *runtime.Run
	release func()
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.rt.ID() }

// Latest returns the most recent checkpoint written or loaded by this handle.
// Its Status reads failed while the handle is halted on a failed step.
func (r *Run) Latest() *Snapshot {
	snap := SnapshotOf(r.rt.Latest())
	snap.Status = r.rt.Status()
	return snap
}

// Step advances the run by at most one node.
func (r *Run) Step(ctx context.Context) (domain.StepResult, error) {
	return r.engine.runtime.Step(ctx, r.rt)
}

// Steps yields step results until the run completes, suspends or fails.
func (r *Run) Steps(ctx context.Context) iter.Seq2[domain.StepResult, error] {
	return r.engine.runtime.Drive(ctx, r.rt)
}

// Close releases the run's write lock. It is safe to call more than once.
func (r *Run) Close() {
	r.release()
}

func (r *Run) drive(ctx context.Context) (*Result, error) {
	var events []domain.StepResult
	var stepErr error
	for res, err := range r.Steps(ctx) {
		if err != nil {
			stepErr = err
			break
		}
		events = append(events, res)
	}

	cp := r.rt.Latest()
	res := &Result{
		RunID:       cp.RunID,
		Status:      r.rt.Status(),
		Step:        cp.Step,
		Next:        cp.Next,
		Interrupted: cp.Interrupted,
		Reason:      cp.Reason,
		State:       cp.State,
		Events:      events,
	}
	if stepErr != nil {
		r.engine.logger.WarnContext(ctx, "run stopped on error", "run_id", cp.RunID, "step", cp.Step, "err", stepErr)
	}
	return res, stepErr
}
