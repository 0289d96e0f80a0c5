package graph

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
)

// Handler is the work performed by a node.
// It receives a private copy of the current state and returns a partial update
// that the executor merges according to the graph's field rules.
// A returned error halts the run at the last checkpoint.
type Handler interface {
	Invoke(ctx context.Context, state domain.State) (domain.State, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, state domain.State) (domain.State, error)

func (f HandlerFunc) Invoke(ctx context.Context, state domain.State) (domain.State, error) {
	return f(ctx, state)
}

// Router picks a branch key from the post-merge state.
// Returning domain.ErrDecisionPending suspends the run until a patch supplies
// the missing input.
type Router interface {
	Route(ctx context.Context, state domain.State) (string, error)
}

// RouterFunc adapts a plain function to Router.
type RouterFunc func(ctx context.Context, state domain.State) (string, error)

func (f RouterFunc) Route(ctx context.Context, state domain.State) (string, error) {
	return f(ctx, state)
}
