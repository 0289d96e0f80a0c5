package runner

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
)

// Policy decides a suspension without involving the Reviewer.
// It returns decided=false to defer to the Reviewer.
type Policy func(ctx context.Context, res domain.StepResult) (patch domain.State, decided bool, err error)

// MultiPolicy chains policies. The first one to decide wins.
func MultiPolicy(policies ...Policy) Policy {
	return func(ctx context.Context, res domain.StepResult) (domain.State, bool, error) {
		for _, p := range policies {
			patch, decided, err := p(ctx, res)
			if err != nil {
				return nil, false, err
			}
			if decided {
				return patch, true, nil
			}
		}
		return nil, false, nil
	}
}

// AutoResume resumes every suspension unchanged.
// Pending decisions are left to the Reviewer since resuming them unchanged would suspend again.
func AutoResume() Policy {
	return func(_ context.Context, res domain.StepResult) (domain.State, bool, error) {
		if res.Reason == domain.ReasonDecisionPending {
			return nil, false, nil
		}
		return nil, true, nil
	}
}

// StaticPatch resumes suspensions at node with a fixed patch.
func StaticPatch(node string, patch domain.State) Policy {
	return func(_ context.Context, res domain.StepResult) (domain.State, bool, error) {
		if res.Node != node {
			return nil, false, nil
		}
		return patch.Clone(), true, nil
	}
}

// deferToReviewer decides nothing.
func deferToReviewer() Policy {
	return func(context.Context, domain.StepResult) (domain.State, bool, error) {
		return nil, false, nil
	}
}
