package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/pergola/pkg/domain"
)

const ext = ".jsonl"

// Store implements ports.CheckpointStore using the local filesystem.
// Each run is one JSON-lines file holding its checkpoints in step order.
// Saves append and fsync; patches rewrite the file through an atomic rename.
type Store struct {
	BasePath string

	mu sync.Mutex
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".pergola/runs".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".pergola", "runs")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.BasePath, runID+ext)
}

// Save appends the checkpoint to the run file and fsyncs it.
// A partial line left by an interrupted append is truncated first.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if err := domain.ValidateRunID(cp.RunID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, complete, total, err := s.readFile(cp.RunID)
	if err != nil && err != domain.ErrRunNotFound {
		return err
	}
	if n := len(history); n > 0 && cp.Step <= history[n-1].Step {
		return domain.ErrCheckpointConflict
	}

	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure run directory: %w", err)
	}
	if complete < total {
		// Drop a torn tail so the new line starts on a line boundary.
		if err := os.Truncate(s.path(cp.RunID), complete); err != nil {
			return fmt.Errorf("failed to truncate torn run file: %w", err)
		}
	}

	line, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.path(cp.RunID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open run file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to fsync run file: %w", err)
	}
	return f.Close()
}

// LoadLatest returns the last checkpoint in the run file.
func (s *Store) LoadLatest(ctx context.Context, runID string) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.read(runID)
	if err != nil {
		return nil, err
	}
	return history[len(history)-1], nil
}

// LoadAt returns the checkpoint recorded at step.
func (s *Store) LoadAt(ctx context.Context, runID string, step int) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.read(runID)
	if err != nil {
		return nil, err
	}
	for _, cp := range history {
		if cp.Step == step {
			return cp, nil
		}
	}
	return nil, domain.ErrCheckpointNotFound
}

// History returns every checkpoint of the run.
func (s *Store) History(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(runID)
}

// PatchLatest merges update into the last checkpoint and rewrites the run
// file atomically: temp file, fsync, rename.
func (s *Store) PatchLatest(ctx context.Context, runID string, update domain.State, fields domain.Fields) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.read(runID)
	if err != nil {
		return nil, err
	}
	latest := history[len(history)-1]
	latest.State = domain.Merge(latest.State, update, fields)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, cp := range history {
		if err := enc.Encode(cp); err != nil {
			return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
	}
	if err := s.writeAtomic(runID, buf.Bytes()); err != nil {
		return nil, err
	}
	return latest, nil
}

func (s *Store) writeAtomic(runID string, data []byte) error {
	destPath := s.path(runID)

	// Same directory keeps the rename on one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+runID+"-*"+ext+".tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to replace run file: %w", err)
	}
	return nil
}

// read parses the run file. Caller holds s.mu.
func (s *Store) read(runID string) ([]*domain.Checkpoint, error) {
	history, _, _, err := s.readFile(runID)
	return history, err
}

// readFile parses the complete lines of the run file. A last line without a
// trailing newline is the remains of an interrupted append and is skipped.
// complete is the byte length of the complete lines, total the file size.
func (s *Store) readFile(runID string) (history []*domain.Checkpoint, complete, total int64, err error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return nil, 0, 0, domain.ErrRunNotFound
	}

	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, 0, domain.ErrRunNotFound
		}
		return nil, 0, 0, fmt.Errorf("failed to read run file: %w", err)
	}
	total = int64(len(data))
	complete = int64(bytes.LastIndexByte(data, '\n') + 1)

	rest := data[:complete]
	for line := 1; len(rest) > 0; line++ {
		var raw []byte
		raw, rest, _ = bytes.Cut(rest, []byte{'\n'})
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var cp domain.Checkpoint
		if err := json.Unmarshal(raw, &cp); err != nil {
			return nil, 0, 0, fmt.Errorf("failed to unmarshal checkpoint at line %d: %w", line, err)
		}
		history = append(history, &cp)
	}
	if len(history) == 0 {
		return nil, complete, total, domain.ErrRunNotFound
	}
	return history, complete, total, nil
}

// Delete removes the run file.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if err := domain.ValidateRunID(runID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(runID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete run file: %w", err)
	}
	return nil
}

// List returns all run IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, "tmp-") {
			continue
		}
		runs = append(runs, strings.TrimSuffix(name, ext))
	}
	sort.Strings(runs)
	return runs, nil
}
