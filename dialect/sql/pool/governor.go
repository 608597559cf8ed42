package pool

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Governor bounds the number of concurrently in-flight reads and writes
// independently, grounded on Icinga's tableSemaphores pattern (a weighted
// semaphore per concern) from the retrieval pack's database package.
// max_concurrent_reads/max_concurrent_writes of 0 means unbounded.
type Governor struct {
	reads  *semaphore.Weighted
	writes *semaphore.Weighted
}

// NewGovernor returns a Governor with the configured limits. A zero or
// negative limit disables bounding for that side.
func NewGovernor(maxConcurrentReads, maxConcurrentWrites int64) *Governor {
	g := &Governor{}
	if maxConcurrentReads > 0 {
		g.reads = semaphore.NewWeighted(maxConcurrentReads)
	}
	if maxConcurrentWrites > 0 {
		g.writes = semaphore.NewWeighted(maxConcurrentWrites)
	}
	return g
}

// AcquireRead blocks until a read slot is available or timeout elapses,
// returning PoolSaturated-shaped information via the returned error when
// the deadline is reached first.
func (g *Governor) AcquireRead(ctx context.Context, timeout time.Duration) (release func(), err error) {
	return g.acquire(ctx, g.reads, timeout, "read")
}

// AcquireWrite blocks until a write slot is available or timeout elapses.
func (g *Governor) AcquireWrite(ctx context.Context, timeout time.Duration) (release func(), err error) {
	return g.acquire(ctx, g.writes, timeout, "write")
}

func (g *Governor) acquire(ctx context.Context, sem *semaphore.Weighted, timeout time.Duration, label string) (func(), error) {
	if sem == nil {
		return func() {}, nil
	}
	acquireCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := sem.Acquire(acquireCtx, 1); err != nil {
		return nil, &SaturatedError{Label: label, Timeout: timeout}
	}
	var released bool
	return func() {
		if !released {
			released = true
			sem.Release(1)
		}
	}, nil
}

// SaturatedError is returned when a governor slot could not be acquired
// before its timeout elapsed. The root polydb package wraps this into its
// own PoolSaturated at the DatabaseContext boundary.
type SaturatedError struct {
	Label   string
	Timeout time.Duration
}

func (e *SaturatedError) Error() string {
	return "pool: " + e.Label + " governor saturated after " + e.Timeout.String()
}
