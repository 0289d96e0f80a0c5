package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/pkg/domain"
)

// ErrTooManyRounds is returned when a run keeps suspending past WithMaxRounds.
var ErrTooManyRounds = errors.New("review rounds exhausted")

// Runner drives one run, resuming it after every reviewed suspension.
type Runner struct {
	Engine *pergola.Engine

	// Reviewer presents progress and suspensions. If nil, Run stops at the
	// first suspension no Policy decides.
	Reviewer Reviewer

	// Policy decides suspensions before the Reviewer is asked.
	Policy Policy

	// Logger is used for internal debug logging.
	// If nil, a no-op logger is used.
	Logger *slog.Logger

	RunID     string
	Initial   domain.State
	Patch     domain.State
	MaxRounds int

	resume bool
}

// NewRunner creates a Runner for engine.
func NewRunner(engine *pergola.Engine, opts ...Option) *Runner {
	r := &Runner{Engine: engine}
	for _, opt := range opts {
		opt(r)
	}
	if r.Logger == nil {
		r.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.Policy == nil {
		r.Policy = deferToReviewer()
	}
	return r
}

// Run starts (or resumes) the run and keeps resuming it until it completes,
// the reviewer stops, or ctx is canceled. The returned Result always reflects
// the last durable checkpoint when the run exists.
// SIGINT and SIGTERM cancel the loop; the run stays resumable.
func (r *Runner) Run(ctx context.Context) (*pergola.Result, error) {
	if r.Engine == nil {
		return nil, errors.New("runner: engine is required")
	}

	signals := NewSignalManager(ctx)
	defer signals.Stop()
	ctx = signals.Context()

	var (
		res *pergola.Result
		err error
	)
	if r.resume {
		res, err = r.Engine.Resume(ctx, r.RunID, r.Patch)
	} else {
		res, err = r.Engine.Start(ctx, r.RunID, r.Initial)
	}
	if rerr := r.report(ctx, res); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return res, err
	}

	for rounds := 0; res.Status == domain.StatusSuspended; rounds++ {
		if r.MaxRounds > 0 && rounds >= r.MaxRounds {
			return res, fmt.Errorf("run %q: %w (%d)", res.RunID, ErrTooManyRounds, r.MaxRounds)
		}

		suspended := suspensionOf(res)
		patch, err := r.decide(ctx, suspended)
		if errors.Is(err, io.EOF) {
			r.Logger.Debug("review stopped; run left suspended", "run_id", res.RunID, "node", suspended.Node)
			return res, nil
		}
		if err != nil {
			signals.CheckRace()
			if ctx.Err() != nil {
				return res, fmt.Errorf("review interrupted: %w", context.Cause(ctx))
			}
			return res, fmt.Errorf("review error: %w", err)
		}

		r.Logger.Debug("resuming", "run_id", res.RunID, "node", suspended.Node, "patched", len(patch) > 0)
		next, err := r.Engine.Resume(ctx, res.RunID, patch)
		if next != nil {
			res = next
		}
		if rerr := r.report(ctx, next); rerr != nil && err == nil {
			err = rerr
		}
		if err != nil {
			if cause := signals.Interrupted(); cause != nil {
				r.Logger.Info("run left resumable", "run_id", res.RunID, "step", res.Step, "cause", cause)
				return res, fmt.Errorf("run %q: %w", res.RunID, cause)
			}
			return res, err
		}
	}
	return res, nil
}

func (r *Runner) decide(ctx context.Context, res domain.StepResult) (domain.State, error) {
	patch, decided, err := r.Policy(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	if decided {
		return patch, nil
	}
	if r.Reviewer == nil {
		return nil, io.EOF
	}
	return r.Reviewer.Review(ctx, res)
}

// report forwards every step result except the final suspension, which Review presents.
func (r *Runner) report(ctx context.Context, res *pergola.Result) error {
	if r.Reviewer == nil || res == nil {
		return nil
	}
	for _, ev := range res.Events {
		if ev.Kind == domain.StepSuspended {
			continue
		}
		if err := r.Reviewer.Report(ctx, ev); err != nil {
			return fmt.Errorf("report error: %w", err)
		}
	}
	return nil
}

func suspensionOf(res *pergola.Result) domain.StepResult {
	if n := len(res.Events); n > 0 && res.Events[n-1].Kind == domain.StepSuspended {
		return res.Events[n-1]
	}
	return domain.StepResult{
		Kind:   domain.StepSuspended,
		RunID:  res.RunID,
		Step:   res.Step,
		Node:   res.Next,
		Reason: res.Reason,
		State:  res.State,
	}
}
