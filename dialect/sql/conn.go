package sql

import (
	"context"
	dbsql "database/sql"

	"github.com/sqlcore/polydb/dialect"
	"github.com/sqlcore/polydb/dialect/sql/pool"
)

type (
	// Result is an alias to database/sql.Result.
	Result = dbsql.Result
	// Rows is an alias to database/sql.Rows.
	Rows = dbsql.Rows
	// TxOptions is an alias to database/sql.TxOptions.
	TxOptions = dbsql.TxOptions
)

// ConnSource supplies a connection for one statement's execution: either
// a fresh acquisition from a pool.Strategy, or a pinned connection/
// transaction handed down by dialect/sql/txn.TransactionContext. release
// is called exactly once after the statement completes; it is a no-op for
// a pinned connection.
type ConnSource interface {
	Acquire(ctx context.Context, execType dialect.ExecutionType) (conn *pool.TrackedConnection, release func(), err error)
}

// strategySource adapts a pool.Strategy into a ConnSource, acquiring a
// fresh (or writer/shared, per strategy) connection per statement.
type strategySource struct {
	strategy pool.Strategy
}

// NewStrategySource returns a ConnSource backed by strategy.
func NewStrategySource(strategy pool.Strategy) ConnSource {
	return strategySource{strategy: strategy}
}

func (s strategySource) Acquire(ctx context.Context, execType dialect.ExecutionType) (*pool.TrackedConnection, func(), error) {
	conn, err := s.strategy.Acquire(ctx, execType, false)
	if err != nil {
		return nil, nil, err
	}
	return conn, func() { _ = s.strategy.Release(conn) }, nil
}

// PinnedSource adapts an already-open, already-in-transaction connection
// (owned by a dialect/sql/txn.TransactionContext) into a ConnSource whose
// Acquire always returns the same connection and whose release is a no-op:
// the pinning transaction, not the container, owns the connection's
// lifetime.
type PinnedSource struct {
	Conn *pool.TrackedConnection
}

func (p PinnedSource) Acquire(_ context.Context, _ dialect.ExecutionType) (*pool.TrackedConnection, func(), error) {
	return p.Conn, func() {}, nil
}

// execQuerierOf extracts the ExecQuerier from a pool.TrackedConnection's
// underlying resource (itself a pool.ExecQuerier, structurally identical
// to this package's needs).
func execQuerierOf(conn *pool.TrackedConnection) pool.ExecQuerier {
	return conn.Conn()
}
