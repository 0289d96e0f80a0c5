package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ErrInterrupted is the cancellation cause recorded when SIGINT or SIGTERM
// stops a run loop. The run itself stays resumable from its last checkpoint.
var ErrInterrupted = errors.New("interrupted by signal")

// raceGrace is how long CheckRace waits for a signal that trails a read error.
const raceGrace = 100 * time.Millisecond

// SignalManager turns SIGINT and SIGTERM into cancellation of a context
// derived from a parent, keeping the signal as the context's cause.
type SignalManager struct {
	parent context.Context
	ctx    context.Context
	cancel context.CancelCauseFunc
	sigs   chan os.Signal
	done   chan struct{}
}

// NewSignalManager creates a manager derived from parent and starts listening.
func NewSignalManager(parent context.Context) *SignalManager {
	sm := &SignalManager{parent: parent}
	sm.Reset()
	return sm
}

// Context returns the current signal context.
func (sm *SignalManager) Context() context.Context {
	return sm.ctx
}

// Reset re-arms the listener with a fresh context, typically after a signal
// has been handled and the caller wants to catch the next one.
func (sm *SignalManager) Reset() {
	sm.Stop()

	ctx, cancel := context.WithCancelCause(sm.parent)
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			cancel(fmt.Errorf("%w: %s", ErrInterrupted, sig))
		case <-ctx.Done():
		case <-done:
		}
	}()
	sm.ctx, sm.cancel, sm.sigs, sm.done = ctx, cancel, sigs, done
}

// Stop releases the listener and cancels the current context.
// A signal cause recorded before Stop is kept.
func (sm *SignalManager) Stop() {
	if sm.sigs == nil {
		return
	}
	signal.Stop(sm.sigs)
	close(sm.done)
	sm.cancel(nil)
	sm.sigs, sm.done = nil, nil
}

// Interrupted returns the signal cause when the current context was canceled
// by SIGINT or SIGTERM, and nil otherwise.
func (sm *SignalManager) Interrupted() error {
	if cause := context.Cause(sm.ctx); errors.Is(cause, ErrInterrupted) {
		return cause
	}
	return nil
}

// CheckRace waits briefly for a signal that may trail an error. Some
// terminals (notably on Windows) report EOF on stdin for Ctrl+C slightly
// before the signal itself is delivered.
func (sm *SignalManager) CheckRace() {
	if sm.ctx.Err() != nil {
		return
	}
	select {
	case <-sm.ctx.Done():
	case <-time.After(raceGrace):
	}
}
