package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/pergola/pkg/domain"
)

// Store implements ports.CheckpointStore in memory.
// Safe for concurrent use. Checkpoints are copied on the way in and out so
// callers can never alias stored state.
type Store struct {
	runs map[string][]*domain.Checkpoint
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		runs: make(map[string][]*domain.Checkpoint),
	}
}

// Save appends a checkpoint to its run.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if err := domain.ValidateRunID(cp.RunID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.runs[cp.RunID]
	if n := len(history); n > 0 && cp.Step <= history[n-1].Step {
		return domain.ErrCheckpointConflict
	}
	s.runs[cp.RunID] = append(history, cp.Clone())
	return nil
}

// LoadLatest returns the checkpoint with the highest step.
func (s *Store) LoadLatest(ctx context.Context, runID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return history[len(history)-1].Clone(), nil
}

// LoadAt returns the checkpoint recorded at step.
func (s *Store) LoadAt(ctx context.Context, runID string, step int) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	i := sort.Search(len(history), func(i int) bool { return history[i].Step >= step })
	if i == len(history) || history[i].Step != step {
		return nil, domain.ErrCheckpointNotFound
	}
	return history[i].Clone(), nil
}

// PatchLatest merges update into the latest checkpoint in place.
func (s *Store) PatchLatest(ctx context.Context, runID string, update domain.State, fields domain.Fields) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	latest := history[len(history)-1].Clone()
	latest.State = domain.Merge(latest.State, update, fields)
	history[len(history)-1] = latest
	return latest.Clone(), nil
}

// History returns every checkpoint of the run in step order.
func (s *Store) History(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	out := make([]*domain.Checkpoint, len(history))
	for i, cp := range history {
		out[i] = cp.Clone()
	}
	return out, nil
}

// Delete removes the run.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

// List returns known runs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]string, 0, len(s.runs))
	for id := range s.runs {
		runs = append(runs, id)
	}
	sort.Strings(runs)
	return runs, nil
}
