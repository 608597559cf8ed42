// Package pool implements the connection lifecycle strategies and the
// bounded parameter-object reuse ring described in spec.md §4.2-§4.4. It
// sits below dialect/sql: a SqlContainer acquires a *TrackedConnection from
// a ConnectionStrategy before binding and executing a statement.
package pool

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sqlcore/polydb/dialect"
)

// State is the observable lifecycle state of a TrackedConnection.
type State int32

// Recognized connection states.
const (
	Unopened State = iota
	Open
	Closed
	Broken
	Disposed
)

func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case Closed:
		return "Closed"
	case Broken:
		return "Broken"
	case Disposed:
		return "Disposed"
	default:
		return "Unopened"
	}
}

// ExecQuerier is the minimal surface a TrackedConnection needs from the
// underlying driver resource; *sql.DB, *sql.Conn and *sql.Tx all satisfy
// it, mirroring the teacher's dialect/sql.ExecQuerier.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Stats is shared, context-wide connection counters: an open-count and a
// high-water mark, updated atomically by every TrackedConnection sharing
// the same DatabaseContext (spec.md §4.3).
type Stats struct {
	openCount atomic.Int64
	highWater atomic.Int64
}

// OpenCount returns the number of connections currently Open.
func (s *Stats) OpenCount() int64 { return s.openCount.Load() }

// HighWaterMark returns the highest OpenCount ever observed.
func (s *Stats) HighWaterMark() int64 { return s.highWater.Load() }

func (s *Stats) recordOpen() {
	n := s.openCount.Add(1)
	for {
		hw := s.highWater.Load()
		if n <= hw || s.highWater.CompareAndSwap(hw, n) {
			return
		}
	}
}

func (s *Stats) recordClose() { s.openCount.Add(-1) }

// TrackedConnection wraps a raw provider connection, applying the
// dialect's session preamble exactly once per connection lifetime and
// exposing an optional asynchronous lock for shared (pinned/serialized)
// connections.
type TrackedConnection struct {
	conn     ExecQuerier
	dlct     dialect.Dialect
	readOnly bool
	stats    *Stats

	state        atomic.Int32
	preambleOnce sync.Once
	preambleErr  error
	locker       *AsyncLocker // nil when this connection is never shared

	// releaseWriter holds the in-flight lock-release callback between a
	// shared-connection Acquire and its matching Release/ReleaseAsync.
	// Strategy implementations own this field; TrackedConnection itself
	// never calls it.
	releaseWriter func()
}

// NewTrackedConnection wraps conn. locker is non-nil when the connection
// must serialize concurrent callers (SingleWriter's writer, SingleConnection's
// shared connection, or a KeepAlive sentinel never handed to callers).
func NewTrackedConnection(conn ExecQuerier, dlct dialect.Dialect, readOnly bool, stats *Stats, locker *AsyncLocker) *TrackedConnection {
	tc := &TrackedConnection{conn: conn, dlct: dlct, readOnly: readOnly, stats: stats, locker: locker}
	tc.state.Store(int32(Unopened))
	return tc
}

// State reports the connection's current lifecycle state.
func (c *TrackedConnection) State() State { return State(c.state.Load()) }

// Locker returns the async lock guarding this connection, or nil if the
// connection is never shared across concurrent callers.
func (c *TrackedConnection) Locker() *AsyncLocker { return c.locker }

// Conn returns the underlying ExecQuerier for statement execution.
func (c *TrackedConnection) Conn() ExecQuerier { return c.conn }

// Open transitions Unopened -> Open, recording stats, and runs the
// dialect's SessionPreamble exactly once over this connection's lifetime.
func (c *TrackedConnection) Open(ctx context.Context) error {
	if c.state.CompareAndSwap(int32(Unopened), int32(Open)) {
		if c.stats != nil {
			c.stats.recordOpen()
		}
	} else if State(c.state.Load()) != Open {
		return nil
	}
	c.preambleOnce.Do(func() {
		preamble := strings.TrimSpace(c.dlct.SessionPreamble(c.readOnly))
		if preamble == "" {
			return
		}
		_, c.preambleErr = c.conn.ExecContext(ctx, preamble)
	})
	return c.preambleErr
}

// WithExecQuerier returns a new TrackedConnection sharing this
// connection's dialect/read-only/locker identity but executing statements
// against a different ExecQuerier — used to hand a *sql.Tx to containers
// created inside a transaction while the original TrackedConnection keeps
// owning the physical connection's open/lock/dispose lifecycle. The
// session preamble is considered already applied (it ran once on the
// physical connection before the transaction began), so the returned
// connection's Open is a no-op.
func (c *TrackedConnection) WithExecQuerier(q ExecQuerier) *TrackedConnection {
	clone := &TrackedConnection{conn: q, dlct: c.dlct, readOnly: c.readOnly}
	clone.state.Store(int32(Open))
	clone.preambleOnce.Do(func() {})
	return clone
}

// MarkBroken transitions the connection to Broken, e.g. after a driver
// error indicates the connection is no longer usable.
func (c *TrackedConnection) MarkBroken() { c.state.Store(int32(Broken)) }

// Close closes the connection idempotently, transitioning to Closed.
func (c *TrackedConnection) Close() error {
	prev := State(c.state.Swap(int32(Closed)))
	if prev != Open {
		return nil
	}
	if c.stats != nil {
		c.stats.recordClose()
	}
	if closer, ok := c.conn.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Dispose idempotently closes and transitions to Disposed, the terminal
// state; safe to call multiple times and from both sync and async paths.
func (c *TrackedConnection) Dispose() error {
	_ = c.Close()
	c.state.Store(int32(Disposed))
	return nil
}
