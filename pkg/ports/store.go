package ports

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
)

// CheckpointStore defines the interface for persisting run checkpoints.
// Checkpoints are append-only per run; the latest is the one with the highest step.
// Implementations must be safe for concurrent use across distinct runs.
type CheckpointStore interface {
	// Save appends a checkpoint to its run.
	// Returns domain.ErrCheckpointConflict if cp.Step is not greater than the latest step.
	Save(ctx context.Context, cp *domain.Checkpoint) error

	// LoadLatest returns the checkpoint with the highest step.
	// Returns domain.ErrRunNotFound if the run has no checkpoints.
	LoadLatest(ctx context.Context, runID string) (*domain.Checkpoint, error)

	// LoadAt returns the checkpoint recorded at a given step.
	// Returns domain.ErrRunNotFound for unknown runs and domain.ErrCheckpointNotFound
	// for unknown steps of a known run.
	LoadAt(ctx context.Context, runID string, step int) (*domain.Checkpoint, error)

	// PatchLatest merges update into the latest checkpoint's state in place,
	// using the given merge rules, and returns the patched checkpoint.
	PatchLatest(ctx context.Context, runID string, update domain.State, fields domain.Fields) (*domain.Checkpoint, error)

	// History returns every checkpoint of a run in ascending step order.
	History(ctx context.Context, runID string) ([]*domain.Checkpoint, error)

	// List returns the IDs of all runs with at least one checkpoint.
	List(ctx context.Context) ([]string, error)

	// Delete removes every checkpoint of a run. Deleting an unknown run is not an error.
	Delete(ctx context.Context, runID string) error
}
