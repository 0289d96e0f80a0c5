package runner

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
)

// Reviewer defines the strategy for presenting a run to a human.
// This allows switching between Text (CLI) and JSON (structured) modes.
type Reviewer interface {
	// Report presents a step result as it happens.
	Report(ctx context.Context, res domain.StepResult) error

	// Review presents a suspension and returns the patch to resume with.
	// A nil patch resumes unchanged. io.EOF stops reviewing and leaves the run suspended.
	Review(ctx context.Context, res domain.StepResult) (domain.State, error)
}
