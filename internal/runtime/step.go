package runtime

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/aretw0/pergola/pkg/domain"
)

// Step advances the run by at most one node.
//
// The pending node comes from the latest checkpoint. END completes the run. A
// node in the before set suspends first; otherwise its handler runs and the
// update is merged. A node in the after set suspends with the merged state;
// otherwise the successor is resolved and a new checkpoint records it.
// Nothing is reported as done before its checkpoint is durable. A handler or
// routing error leaves the latest checkpoint in place and marks the handle
// failed until a later checkpoint is saved.
func (e *Engine) Step(ctx context.Context, run *Run) (domain.StepResult, error) {
	res, err := e.step(ctx, run)
	if domain.IsStepFailure(err) {
		run.failure = err
	}
	return res, err
}

func (e *Engine) step(ctx context.Context, run *Run) (domain.StepResult, error) {
	cp := run.latest

	if cp.Next == domain.END {
		return domain.StepResult{Kind: domain.StepCompleted, RunID: cp.RunID, Step: cp.Step, State: cp.State.Clone()}, nil
	}
	if run.paused {
		return suspendedResult(cp), nil
	}

	node := cp.Next
	state := cp.State

	if cp.Phase != domain.PhaseAfter {
		if run.interrupts.ShouldSuspend(node, domain.PhaseBefore) && run.passBefore != node {
			if err := e.suspend(ctx, run, node, state, domain.PhaseBefore, domain.ReasonInterruptBefore); err != nil {
				return domain.StepResult{}, err
			}
			return suspendedResult(run.latest), nil
		}
		run.passBefore = ""

		if e.maxSteps > 0 && run.executed >= e.maxSteps {
			return domain.StepResult{}, fmt.Errorf("run %q: %w (%d)", cp.RunID, domain.ErrStepLimit, e.maxSteps)
		}

		merged, err := e.invoke(ctx, run, node, state)
		if err != nil {
			return domain.StepResult{}, err
		}
		state = merged

		if run.interrupts.ShouldSuspend(node, domain.PhaseAfter) {
			if err := e.suspend(ctx, run, node, state, domain.PhaseAfter, domain.ReasonInterruptAfter); err != nil {
				return domain.StepResult{}, err
			}
			return suspendedResult(run.latest), nil
		}
	}

	next, err := e.route(ctx, run, node, state)
	if errors.Is(err, domain.ErrDecisionPending) {
		if err := e.suspend(ctx, run, node, state, domain.PhaseAfter, domain.ReasonDecisionPending); err != nil {
			return domain.StepResult{}, err
		}
		return suspendedResult(run.latest), nil
	}
	if err != nil {
		return domain.StepResult{}, err
	}

	if err := e.save(ctx, run, &domain.Checkpoint{
		State:  state,
		Next:   next,
		Phase:  domain.PhaseBefore,
		Status: statusFor(next),
	}); err != nil {
		return domain.StepResult{}, err
	}
	if next == domain.END {
		e.emitComplete(ctx, run)
	}

	e.logger.DebugContext(ctx, "step", "run_id", cp.RunID, "node", node, "next", next, "step", run.latest.Step)
	return domain.StepResult{
		Kind:  domain.StepAdvanced,
		RunID: cp.RunID,
		Step:  run.latest.Step,
		Node:  node,
		Next:  next,
		State: state.Clone(),
	}, nil
}

// Drive steps the run until it completes, suspends or fails, yielding every result.
// An error ends the sequence.
func (e *Engine) Drive(ctx context.Context, run *Run) iter.Seq2[domain.StepResult, error] {
	return func(yield func(domain.StepResult, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(domain.StepResult{}, err)
				return
			}
			res, err := e.Step(ctx, run)
			if err != nil {
				yield(domain.StepResult{}, err)
				return
			}
			if !yield(res, nil) || res.Kind != domain.StepAdvanced {
				return
			}
		}
	}
}

func (e *Engine) invoke(ctx context.Context, run *Run, node string, state domain.State) (domain.State, error) {
	step := run.latest.Step
	h, ok := run.plan.Handler(node)
	if !ok {
		return nil, &domain.HandlerError{Node: node, Step: step, Cause: fmt.Errorf("node not declared in graph %q", run.plan.Name())}
	}

	e.emitNodeEnter(ctx, run, node)
	started := e.now()
	update, err := h.Invoke(ctx, state.Clone())
	e.emitNodeLeave(ctx, run, node, e.now().Sub(started), err)
	run.executed++

	if err != nil {
		e.logger.DebugContext(ctx, "handler failed", "run_id", run.latest.RunID, "node", node, "err", err)
		return nil, &domain.HandlerError{Node: node, Step: step, Cause: err}
	}
	return domain.Merge(state, update, run.plan.Fields()), nil
}

// route resolves the successor of from against the post-merge state.
func (e *Engine) route(ctx context.Context, run *Run, from string, state domain.State) (string, error) {
	tr, ok := run.plan.Transition(from)
	if !ok {
		err := &domain.RoutingError{Node: from, Cause: fmt.Errorf("no transition declared in graph %q", run.plan.Name())}
		e.emitRoute(ctx, run, from, "", "", err)
		return "", err
	}
	if !tr.Conditional() {
		e.emitRoute(ctx, run, from, "", tr.To, nil)
		return tr.To, nil
	}

	key, err := tr.Router.Route(ctx, state.Clone())
	if errors.Is(err, domain.ErrDecisionPending) {
		return "", err
	}
	if err != nil {
		rerr := domain.NewRoutingError(from, key, tr.Branches, err)
		e.emitRoute(ctx, run, from, key, "", rerr)
		return "", rerr
	}
	to, ok := tr.Resolve(key)
	if !ok {
		rerr := domain.NewRoutingError(from, key, tr.Branches, nil)
		e.emitRoute(ctx, run, from, key, "", rerr)
		return "", rerr
	}
	e.emitRoute(ctx, run, from, key, to, nil)
	return to, nil
}

// suspend writes an interrupt checkpoint. Next stays on node so resume knows
// which step to finish; phase says whether its handler already ran.
func (e *Engine) suspend(ctx context.Context, run *Run, node string, state domain.State, phase domain.Phase, reason domain.SuspendReason) error {
	if err := e.save(ctx, run, &domain.Checkpoint{
		State:       state,
		Next:        node,
		Phase:       phase,
		Interrupted: true,
		Reason:      reason,
		Status:      domain.StatusSuspended,
	}); err != nil {
		e.logger.WarnContext(ctx, "suspend failed", "run_id", run.latest.RunID, "node", node, "err", err)
		return err
	}
	run.paused = true
	e.emitSuspend(ctx, run, node, reason)
	e.logger.DebugContext(ctx, "run suspended", "run_id", run.latest.RunID, "node", node, "reason", reason)
	return nil
}

func suspendedResult(cp *domain.Checkpoint) domain.StepResult {
	return domain.StepResult{
		Kind:   domain.StepSuspended,
		RunID:  cp.RunID,
		Step:   cp.Step,
		Node:   cp.Next,
		Reason: cp.Reason,
		State:  cp.State.Clone(),
	}
}
