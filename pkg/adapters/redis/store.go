package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/pergola/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic-lock retries on a contended run key.
const maxTxRetries = 5

// Store implements ports.CheckpointStore using Redis.
// Each run is a list of JSON checkpoints; a sorted set indexes run IDs by expiry.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for runs. It is refreshed on every save.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "pergola:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client exposes the underlying client, e.g. to build a Locker on the same connection.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) key(runID string) string {
	return s.prefix + "run:" + runID
}

func (s *Store) indexKey() string {
	return s.prefix + "runs"
}

func (s *Store) score() float64 {
	if s.ttl == 0 {
		return 4102444800 // 2100-01-01
	}
	return float64(time.Now().Add(s.ttl).Unix())
}

// Save appends the checkpoint to the run list.
// The step check and the push run in one WATCH/MULTI transaction.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if err := domain.ValidateRunID(cp.RunID); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	key := s.key(cp.RunID)

	return s.watch(ctx, key, func(tx *backend.Tx) error {
		latest, err := lastCheckpoint(ctx, tx, key)
		if err != nil && !errors.Is(err, domain.ErrRunNotFound) {
			return err
		}
		if latest != nil && cp.Step <= latest.Step {
			return domain.ErrCheckpointConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.RPush(ctx, key, data)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: s.score(), Member: cp.RunID})
			return nil
		})
		return err
	})
}

// LoadLatest returns the last checkpoint of the run.
func (s *Store) LoadLatest(ctx context.Context, runID string) (*domain.Checkpoint, error) {
	return lastCheckpoint(ctx, s.client, s.key(runID))
}

// LoadAt returns the checkpoint recorded at step.
func (s *Store) LoadAt(ctx context.Context, runID string, step int) (*domain.Checkpoint, error) {
	history, err := s.History(ctx, runID)
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

// PatchLatest merges update into the last checkpoint with LSET under WATCH.
func (s *Store) PatchLatest(ctx context.Context, runID string, update domain.State, fields domain.Fields) (*domain.Checkpoint, error) {
	key := s.key(runID)
	var patched *domain.Checkpoint

	err := s.watch(ctx, key, func(tx *backend.Tx) error {
		latest, err := lastCheckpoint(ctx, tx, key)
		if err != nil {
			return err
		}
		latest.State = domain.Merge(latest.State, update, fields)
		data, err := json.Marshal(latest)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.LSet(ctx, key, -1, data)
			return nil
		})
		if err == nil {
			patched = latest
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return patched, nil
}

// History returns every checkpoint of the run in step order.
func (s *Store) History(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	vals, err := s.client.LRange(ctx, s.key(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read from redis: %w", err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrRunNotFound
	}
	history := make([]*domain.Checkpoint, 0, len(vals))
	for _, val := range vals {
		cp, err := decode(val)
		if err != nil {
			return nil, err
		}
		history = append(history, cp)
	}
	return history, nil
}

// Delete removes the run.
func (s *Store) Delete(ctx context.Context, runID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(runID))
	pipe.ZRem(ctx, s.indexKey(), runID)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns live runs, pruning expired index entries first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired runs: %w", err)
	}

	runs, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) watch(ctx context.Context, key string, fn func(*backend.Tx) error) error {
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, fn, key)
		if !errors.Is(err, backend.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("run key %s kept changing: %w", key, err)
}

// indexer is satisfied by both *backend.Client and *backend.Tx.
type indexer interface {
	LIndex(ctx context.Context, key string, index int64) *backend.StringCmd
}

func lastCheckpoint(ctx context.Context, c indexer, key string) (*domain.Checkpoint, error) {
	val, err := c.LIndex(ctx, key, -1).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decode(val)
}

func decode(val string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
