// Package lock provides cross-process mutual exclusion keyed by project
// name, implemented as an advisory exclusive file lock. It exists because
// the project store serializes writers internally but its own busy-retry
// timer is short; holding this lock around a batch of writes eliminates
// "database is locked" errors under concurrent multi-process writers.
package lock

import (
	"context"
	"time"

	trackerrors "github.com/trackhive/trackhive/internal/errors"
	"github.com/trackhive/trackhive/internal/telemetry"
)

const (
	pollInterval   = 100 * time.Millisecond
	acquireTimeout = 10 * time.Second
)

// Lock is a held advisory lock on a project. Release must be called
// exactly once to unblock other processes.
type Lock struct {
	path    string
	release func() error
}

// Acquire blocks (polling every 100ms) until it obtains the exclusive
// lock on the project identified by path, the context is canceled, or
// 10 seconds elapse, whichever comes first. Returns *errors.LockTimeoutError
// on timeout.
func Acquire(ctx context.Context, project, path string) (*Lock, error) {
	waitStart := time.Now()
	deadline := waitStart.Add(acquireTimeout)

	for {
		l, ok, err := tryAcquire(path)
		if err != nil {
			return nil, err
		}
		if ok {
			telemetry.ObserveLockWait(project, waitStart)
			return l, nil
		}

		if time.Now().After(deadline) {
			return nil, &trackerrors.LockTimeoutError{Project: project, Waited: acquireTimeout}
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Release unlocks and closes the underlying lockfile descriptor.
func (l *Lock) Release() error {
	if l == nil || l.release == nil {
		return nil
	}
	return l.release()
}

// With runs fn while holding the project lock, releasing it on return.
func With(ctx context.Context, project, path string, fn func() error) error {
	l, err := Acquire(ctx, project, path)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
