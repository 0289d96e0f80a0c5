package runner

import (
	"log/slog"

	"github.com/aretw0/pergola/pkg/domain"
)

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithReviewer configures how suspensions are presented.
// Without one, Run returns at the first suspension that no Policy decides.
func WithReviewer(reviewer Reviewer) Option {
	return func(r *Runner) {
		r.Reviewer = reviewer
	}
}

// WithPolicy configures automatic decisions, consulted before the Reviewer.
func WithPolicy(policy Policy) Option {
	return func(r *Runner) {
		r.Policy = policy
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.Logger = logger
	}
}

// WithRunID sets the run to start or resume.
// When starting, an empty ID lets the engine generate one.
func WithRunID(id string) Option {
	return func(r *Runner) {
		r.RunID = id
	}
}

// WithInitialState configures the state a new run starts from.
func WithInitialState(state domain.State) Option {
	return func(r *Runner) {
		r.Initial = state
	}
}

// WithResume makes Run resume an existing run, merging patch first.
func WithResume(patch domain.State) Option {
	return func(r *Runner) {
		r.resume = true
		r.Patch = patch
	}
}

// WithMaxRounds bounds how many times Run resumes. Zero means unlimited.
func WithMaxRounds(n int) Option {
	return func(r *Runner) {
		r.MaxRounds = n
	}
}
