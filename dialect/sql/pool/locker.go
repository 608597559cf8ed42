package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sqlcore/polydb/dialect"
)

// AsyncLocker is a fair, asynchronous mutex guarding a single shared
// connection (SingleWriter's writer, SingleConnection's shared connection).
// Acquisition order is FIFO via a buffered channel used as a ticket queue,
// giving the "acquisition order" fairness spec.md §5 requires for
// SingleConnection.
type AsyncLocker struct {
	ch      chan struct{}
	waiters atomic.Int64
}

// NewAsyncLocker returns a ready-to-use, unlocked AsyncLocker.
func NewAsyncLocker() *AsyncLocker {
	l := &AsyncLocker{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Waiters returns the current number of goroutines blocked in LockAsync or
// TryLockAsync, for ModeContentionError reporting.
func (l *AsyncLocker) Waiters() int64 { return l.waiters.Load() }

// LockAsync blocks until the lock is acquired or ctx is canceled, returning
// a release function to call exactly once.
func (l *AsyncLocker) LockAsync(ctx context.Context) (release func(), err error) {
	l.waiters.Add(1)
	defer l.waiters.Add(-1)
	select {
	case <-l.ch:
		return l.unlockOnce(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLockAsync attempts to acquire the lock within timeout, failing with
// dialect-independent ModeContentionError semantics (reported via the
// returned error implementing ContentionError) when the deadline elapses
// before a permit is available.
func (l *AsyncLocker) TryLockAsync(ctx context.Context, timeout time.Duration) (release func(), err error) {
	l.waiters.Add(1)
	defer l.waiters.Add(-1)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.ch:
		return l.unlockOnce(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, &ContentionError{Waiters: l.Waiters(), Timeout: timeout}
	}
}

func (l *AsyncLocker) unlockOnce() func() {
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			l.ch <- struct{}{}
		}
	}
}

// ContentionError is returned by TryLockAsync when a mode lock could not
// be acquired before its timeout elapsed. The root polydb package wraps
// this into its own ModeContentionError at the DatabaseContext boundary.
type ContentionError struct {
	Waiters int64
	Timeout time.Duration
}

func (e *ContentionError) Error() string {
	return "pool: mode lock contention: " + e.Timeout.String() + " elapsed with waiters pending"
}

// writeGuard enforces spec.md §4.2's SingleWriter invariant: a write
// execution routed to any connection other than the designated writer
// fails closed rather than silently executing against the wrong
// connection.
type writeGuard struct {
	writer *TrackedConnection
}

func (g writeGuard) check(conn *TrackedConnection, execType dialect.ExecutionType) error {
	if execType == dialect.Write && conn != g.writer {
		return &WriteGuardViolation{}
	}
	return nil
}

// WriteGuardViolation is returned when a write executes against a
// non-writer connection under the SingleWriter strategy.
type WriteGuardViolation struct{}

func (e *WriteGuardViolation) Error() string {
	return "pool: write routed to a non-writer connection under SingleWriter"
}
