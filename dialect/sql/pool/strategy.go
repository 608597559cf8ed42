package pool

import (
	"context"
	"database/sql"

	"github.com/sqlcore/polydb/dialect"
)

// Strategy is the contract every ConnectionStrategy variant implements
// (spec.md §4.2): acquire a connection for a declared execution type,
// release it (synchronously or asynchronously), and tear down owned
// resources on disposal.
type Strategy interface {
	Acquire(ctx context.Context, execType dialect.ExecutionType, shared bool) (*TrackedConnection, error)
	Release(conn *TrackedConnection) error
	ReleaseAsync(ctx context.Context, conn *TrackedConnection) error
	Dispose() error
}

// Opener abstracts *sql.DB down to what a strategy needs: a fresh
// driver-pooled connection, or the DB itself for a long-lived sentinel.
type Opener interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// standardStrategy opens a fresh connection from the driver pool on every
// Acquire and closes it on Release; no long-lived sentinel.
type standardStrategy struct {
	db       Opener
	dlct     dialect.Dialect
	stats    *Stats
	readOnly func(dialect.ExecutionType) bool
}

// NewStandard returns the Standard strategy.
func NewStandard(db Opener, dlct dialect.Dialect, stats *Stats) Strategy {
	return &standardStrategy{db: db, dlct: dlct, stats: stats, readOnly: defaultReadOnly}
}

func defaultReadOnly(execType dialect.ExecutionType) bool { return execType == dialect.Read }

func (s *standardStrategy) Acquire(ctx context.Context, execType dialect.ExecutionType, _ bool) (*TrackedConnection, error) {
	raw, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	tc := NewTrackedConnection(raw, s.dlct, s.readOnly(execType), s.stats, nil)
	if err := tc.Open(ctx); err != nil {
		_ = tc.Dispose()
		return nil, err
	}
	return tc, nil
}

func (s *standardStrategy) Release(conn *TrackedConnection) error { return conn.Dispose() }

func (s *standardStrategy) ReleaseAsync(_ context.Context, conn *TrackedConnection) error {
	return conn.Dispose()
}

func (s *standardStrategy) Dispose() error { return nil }

// keepAliveStrategy behaves exactly like Standard but holds one sentinel
// connection open for the DatabaseContext's whole lifetime, preventing a
// backend like LocalDB from unloading between bursts of activity. The
// sentinel is never handed out to Acquire callers.
type keepAliveStrategy struct {
	standardStrategy
	sentinel *TrackedConnection
}

// NewKeepAlive returns the KeepAlive strategy, opening its sentinel
// connection immediately.
func NewKeepAlive(ctx context.Context, db Opener, dlct dialect.Dialect, stats *Stats) (Strategy, error) {
	raw, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	sentinel := NewTrackedConnection(raw, dlct, false, stats, nil)
	if err := sentinel.Open(ctx); err != nil {
		_ = sentinel.Dispose()
		return nil, err
	}
	return &keepAliveStrategy{
		standardStrategy: standardStrategy{db: db, dlct: dlct, stats: stats, readOnly: defaultReadOnly},
		sentinel:         sentinel,
	}, nil
}

func (s *keepAliveStrategy) Dispose() error { return s.sentinel.Dispose() }

// singleWriterStrategy holds one persistent writer connection, serialized
// by an AsyncLocker; reads always get a fresh driver-pooled connection.
type singleWriterStrategy struct {
	db     Opener
	dlct   dialect.Dialect
	stats  *Stats
	writer *TrackedConnection
	guard  writeGuard
}

// NewSingleWriter returns the SingleWriter strategy, opening its writer
// connection immediately.
func NewSingleWriter(ctx context.Context, db Opener, dlct dialect.Dialect, stats *Stats) (Strategy, error) {
	raw, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	writer := NewTrackedConnection(raw, dlct, false, stats, NewAsyncLocker())
	if err := writer.Open(ctx); err != nil {
		_ = writer.Dispose()
		return nil, err
	}
	s := &singleWriterStrategy{db: db, dlct: dlct, stats: stats, writer: writer}
	s.guard = writeGuard{writer: writer}
	return s, nil
}

func (s *singleWriterStrategy) Acquire(ctx context.Context, execType dialect.ExecutionType, _ bool) (*TrackedConnection, error) {
	if execType == dialect.Write {
		release, err := s.writer.Locker().LockAsync(ctx)
		if err != nil {
			return nil, err
		}
		s.writer.releaseWriter = release
		return s.writer, nil
	}
	raw, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	tc := NewTrackedConnection(raw, s.dlct, true, s.stats, nil)
	if err := tc.Open(ctx); err != nil {
		_ = tc.Dispose()
		return nil, err
	}
	return tc, nil
}

// CheckWrite enforces the write guard: a write execution must run on the
// designated writer connection.
func (s *singleWriterStrategy) CheckWrite(conn *TrackedConnection, execType dialect.ExecutionType) error {
	return s.guard.check(conn, execType)
}

func (s *singleWriterStrategy) Release(conn *TrackedConnection) error {
	if conn == s.writer {
		if conn.releaseWriter != nil {
			conn.releaseWriter()
			conn.releaseWriter = nil
		}
		return nil
	}
	return conn.Dispose()
}

func (s *singleWriterStrategy) ReleaseAsync(_ context.Context, conn *TrackedConnection) error {
	return s.Release(conn)
}

func (s *singleWriterStrategy) Dispose() error { return s.writer.Dispose() }

// singleConnectionStrategy serializes all execution through one shared
// connection via a fair AsyncLocker; Acquire returns the same connection
// regardless of execution type, and Release gives up the lock taken at
// Acquire time without closing the connection.
type singleConnectionStrategy struct {
	conn *TrackedConnection
}

// NewSingleConnection returns the SingleConnection strategy, opening its
// one shared connection immediately.
func NewSingleConnection(ctx context.Context, db Opener, dlct dialect.Dialect, stats *Stats) (Strategy, error) {
	raw, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	conn := NewTrackedConnection(raw, dlct, false, stats, NewAsyncLocker())
	if err := conn.Open(ctx); err != nil {
		_ = conn.Dispose()
		return nil, err
	}
	return &singleConnectionStrategy{conn: conn}, nil
}

func (s *singleConnectionStrategy) Acquire(ctx context.Context, _ dialect.ExecutionType, _ bool) (*TrackedConnection, error) {
	release, err := s.conn.Locker().LockAsync(ctx)
	if err != nil {
		return nil, err
	}
	s.conn.releaseWriter = release
	return s.conn, nil
}

func (s *singleConnectionStrategy) Release(conn *TrackedConnection) error {
	if conn.releaseWriter != nil {
		conn.releaseWriter()
		conn.releaseWriter = nil
	}
	return nil
}

func (s *singleConnectionStrategy) ReleaseAsync(_ context.Context, conn *TrackedConnection) error {
	return s.Release(conn)
}

func (s *singleConnectionStrategy) Dispose() error { return s.conn.Dispose() }
