package runs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed lock outlives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the run's slot and the reference count.
// The slot is a one-element channel so waiting honors context cancellation.
type lockEntry struct {
	slot chan struct{}
	refs int
}

// Manager orchestrates run access, ensuring writes to one run are serialized.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.CheckpointStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry passed to the distributed locker.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a run manager over the given checkpoint store.
func NewManager(store ports.CheckpointStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying checkpoint store.
func (m *Manager) Store() ports.CheckpointStore {
	return m.store
}

// entry gets or creates a lock entry and increments its reference count.
// Every call must be paired with drop.
func (m *Manager) entry(runID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.locks[runID]
	if !exists {
		e = &lockEntry{slot: make(chan struct{}, 1)}
		m.locks[runID] = e
	}
	e.refs++
	return e
}

// drop decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) drop(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.locks[runID]
	if !exists {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(m.locks, runID)
	}
}

// Acquire blocks until the caller holds the run's lock or ctx is done.
// The returned release function is idempotent.
func (m *Manager) Acquire(ctx context.Context, runID string) (func(), error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return nil, err
	}

	e := m.entry(runID)
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		m.drop(runID)
		return nil, ctx.Err()
	}

	local := func() {
		<-e.slot
		m.drop(runID)
	}

	var unlock ports.UnlockFunc
	if m.locker != nil {
		var err error
		unlock, err = m.locker.Lock(ctx, runID, m.lockTTL)
		if err != nil {
			local()
			return nil, fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if unlock != nil {
				// The caller's context may be canceled by now; the lock must still go.
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
						"run_id", runID,
						"err", err,
					)
				}
			}
			local()
		})
	}, nil
}

// WithLock executes fn while holding the lock for the run.
func (m *Manager) WithLock(ctx context.Context, runID string, fn func(context.Context) error) error {
	release, err := m.Acquire(ctx, runID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Latest loads the newest checkpoint without taking the lock.
// Readers see either the state before or after a concurrent step, never a torn one.
func (m *Manager) Latest(ctx context.Context, runID string) (*domain.Checkpoint, error) {
	return m.store.LoadLatest(ctx, runID)
}

// Delete removes the run from the store.
func (m *Manager) Delete(ctx context.Context, runID string) error {
	return m.WithLock(ctx, runID, func(ctx context.Context) error {
		return m.store.Delete(ctx, runID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// active reports how many run locks are currently held or awaited.
func (m *Manager) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
