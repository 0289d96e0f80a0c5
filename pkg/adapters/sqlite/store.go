// Package sqlite provides a SQL checkpoint store over database/sql.
// Open uses the pure-Go modernc.org/sqlite driver, so no cgo toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/pergola/pkg/domain"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const (
	createCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"run_id TEXT NOT NULL, " +
		"step INTEGER NOT NULL, " +
		"created_at INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"PRIMARY KEY (run_id, step)" +
		")"

	selectMaxStep  = "SELECT MAX(step) FROM checkpoints WHERE run_id = ?"
	insertCkpt     = "INSERT INTO checkpoints (run_id, step, created_at, checkpoint_json) VALUES (?, ?, ?, ?)"
	selectLatest   = "SELECT checkpoint_json FROM checkpoints WHERE run_id = ? ORDER BY step DESC LIMIT 1"
	selectAt       = "SELECT checkpoint_json FROM checkpoints WHERE run_id = ? AND step = ?"
	selectHistory  = "SELECT checkpoint_json FROM checkpoints WHERE run_id = ? ORDER BY step ASC"
	updateCkpt     = "UPDATE checkpoints SET checkpoint_json = ? WHERE run_id = ? AND step = ?"
	selectRunIDs   = "SELECT DISTINCT run_id FROM checkpoints ORDER BY run_id"
	deleteRun      = "DELETE FROM checkpoints WHERE run_id = ?"
	driverName     = "sqlite"
	defaultDSNPath = "pergola.db"
)

// Store implements ports.CheckpointStore on a SQL database.
// Checkpoints are stored as JSON blobs keyed by (run_id, step).
type Store struct {
	db *sql.DB
	// SQLite allows one writer; serializing here avoids SQLITE_BUSY under load.
	mu sync.Mutex
}

// Open opens (creating if needed) a SQLite database at dsn and prepares the schema.
// An empty dsn uses "pergola.db" in the working directory.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSNPath
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	store, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an initialized *sql.DB and creates the table if needed.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts the checkpoint after checking it advances the run.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if err := domain.ValidateRunID(cp.RunID); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var maxStep sql.NullInt64
		if err := tx.QueryRowContext(ctx, selectMaxStep, cp.RunID).Scan(&maxStep); err != nil {
			return fmt.Errorf("select latest step: %w", err)
		}
		if maxStep.Valid && int64(cp.Step) <= maxStep.Int64 {
			return domain.ErrCheckpointConflict
		}
		if _, err := tx.ExecContext(ctx, insertCkpt, cp.RunID, cp.Step, cp.CreatedAt.UnixNano(), data); err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}
		return nil
	})
}

// LoadLatest returns the checkpoint with the highest step.
func (s *Store) LoadLatest(ctx context.Context, runID string) (*domain.Checkpoint, error) {
	return scanOne(s.db.QueryRowContext(ctx, selectLatest, runID), domain.ErrRunNotFound)
}

// LoadAt returns the checkpoint recorded at step.
func (s *Store) LoadAt(ctx context.Context, runID string, step int) (*domain.Checkpoint, error) {
	cp, err := scanOne(s.db.QueryRowContext(ctx, selectAt, runID, step), domain.ErrCheckpointNotFound)
	if errors.Is(err, domain.ErrCheckpointNotFound) {
		if _, lerr := s.LoadLatest(ctx, runID); lerr != nil {
			return nil, lerr
		}
	}
	return cp, err
}

// PatchLatest merges update into the latest checkpoint inside a transaction.
func (s *Store) PatchLatest(ctx context.Context, runID string, update domain.State, fields domain.Fields) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var patched *domain.Checkpoint
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		latest, err := scanOne(tx.QueryRowContext(ctx, selectLatest, runID), domain.ErrRunNotFound)
		if err != nil {
			return err
		}
		latest.State = domain.Merge(latest.State, update, fields)
		data, err := json.Marshal(latest)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		if _, err := tx.ExecContext(ctx, updateCkpt, data, runID, latest.Step); err != nil {
			return fmt.Errorf("update checkpoint: %w", err)
		}
		patched = latest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return patched, nil
}

// History returns every checkpoint of the run in step order.
func (s *Store) History(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, selectHistory, runID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var history []*domain.Checkpoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp, err := decode(data)
		if err != nil {
			return nil, err
		}
		history = append(history, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	if len(history) == 0 {
		return nil, domain.ErrRunNotFound
	}
	return history, nil
}

// List returns all run IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, selectRunIDs)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	runs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}

// Delete removes every checkpoint of the run.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, deleteRun, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanOne(row *sql.Row, notFound error) (*domain.Checkpoint, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
