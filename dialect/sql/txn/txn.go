// Package txn implements TransactionContext, the pinned-connection view
// described in spec.md §4.8: a transaction is itself a connection-context
// that forwards container creation to a single pinned connection and
// underlying database/sql transaction for its entire lifetime.
package txn

import (
	"context"
	dbsql "database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sqlcore/polydb/dialect"
	sqlcontainer "github.com/sqlcore/polydb/dialect/sql"
	"github.com/sqlcore/polydb/dialect/sql/pool"
)

// State is the lifecycle state of a TransactionContext.
type State int32

// Recognized transaction states.
const (
	Created State = iota
	Active
	Committed
	RolledBack
	Disposed
)

// txBeginner is satisfied by *sql.Conn: the one driver resource capable of
// starting a transaction pinned to itself.
type txBeginner interface {
	BeginTx(ctx context.Context, opts *dbsql.TxOptions) (*dbsql.Tx, error)
}

// ModeNotSupported is returned when the requested isolation level has no
// mapping on the dialect, or is not in its SupportedIsolationLevels.
type ModeNotSupported struct {
	Product dialect.SupportedDatabase
	Level   dialect.IsolationLevel
}

func (e *ModeNotSupported) Error() string {
	return fmt.Sprintf("dialect/sql/txn: %s does not support isolation level %s", e.Product, e.Level)
}

// driverIsolation maps the portable dialect.IsolationLevel vocabulary onto
// database/sql.IsolationLevel for TxOptions.
func driverIsolation(level dialect.IsolationLevel) dbsql.IsolationLevel {
	switch level {
	case dialect.LevelReadUncommitted:
		return dbsql.LevelReadUncommitted
	case dialect.LevelReadCommitted:
		return dbsql.LevelReadCommitted
	case dialect.LevelRepeatableRead:
		return dbsql.LevelRepeatableRead
	case dialect.LevelSnapshot:
		return dbsql.LevelSnapshot
	case dialect.LevelSerializable:
		return dbsql.LevelSerializable
	default:
		return dbsql.LevelDefault
	}
}

// TransactionContext pins one connection and one database/sql transaction
// for its entire lifetime; every container it creates executes against
// that same connection/transaction pair (spec.md §4.8).
type TransactionContext struct {
	dlct     dialect.Dialect
	strategy pool.Strategy
	rawConn  *pool.TrackedConnection
	pinned   *pool.TrackedConnection // wraps tx for container execution
	tx       *dbsql.Tx
	readOnly bool
	level    dialect.IsolationLevel
	recorder sqlcontainer.RecordFunc

	mu               sync.Mutex
	state            atomic.Int32
	savepointCounter int
}

// Options configure transaction creation.
type Options struct {
	ExecType      dialect.ExecutionType
	ReadOnly      bool
	Profile       *dialect.IsolationProfile
	ExplicitLevel *dialect.IsolationLevel

	// AcquireTimeout bounds how long Begin waits to acquire the pinned
	// connection (spec.md §6 "mode_lock_timeout"). Zero means no bound
	// beyond ctx's own deadline.
	AcquireTimeout time.Duration

	// Recorder, when set, is installed on every SqlContainer this
	// transaction creates, so statements executed inside a transaction are
	// still timed by the parent DatabaseContext's metrics collector.
	Recorder sqlcontainer.RecordFunc
}

// Begin acquires a connection from strategy, resolves the isolation level
// per spec.md §4.8, and starts a database/sql transaction pinned to that
// connection.
func Begin(ctx context.Context, strategy pool.Strategy, dlct dialect.Dialect, opts Options) (*TransactionContext, error) {
	level, err := resolveLevel(dlct, opts)
	if err != nil {
		return nil, err
	}

	acquireCtx, cancel := deadlineContext(ctx, opts.AcquireTimeout)
	defer cancel()
	rawConn, err := strategy.Acquire(acquireCtx, opts.ExecType, true)
	if err != nil {
		return nil, err
	}

	beginner, ok := rawConn.Conn().(txBeginner)
	if !ok {
		_ = strategy.Release(rawConn)
		return nil, fmt.Errorf("dialect/sql/txn: underlying connection does not support BeginTx")
	}
	tx, err := beginner.BeginTx(ctx, &dbsql.TxOptions{Isolation: driverIsolation(level), ReadOnly: opts.ReadOnly})
	if err != nil {
		_ = strategy.Release(rawConn)
		return nil, fmt.Errorf("dialect/sql/txn: begin: %w", err)
	}

	tc := &TransactionContext{
		dlct:     dlct,
		strategy: strategy,
		rawConn:  rawConn,
		pinned:   rawConn.WithExecQuerier(tx),
		tx:       tx,
		readOnly: opts.ReadOnly,
		level:    level,
		recorder: opts.Recorder,
	}
	tc.state.Store(int32(Active))
	return tc, nil
}

func resolveLevel(dlct dialect.Dialect, opts Options) (dialect.IsolationLevel, error) {
	if opts.ExplicitLevel != nil {
		level := *opts.ExplicitLevel
		if !dlct.Capability().SupportsIsolation(level) {
			return dialect.LevelDefault, &ModeNotSupported{Product: dlct.Product(), Level: level}
		}
		return level, nil
	}
	if opts.ReadOnly {
		if !dlct.Capability().SupportsIsolation(dialect.LevelRepeatableRead) {
			return dialect.LevelDefault, &ModeNotSupported{Product: dlct.Product(), Level: dialect.LevelRepeatableRead}
		}
		return dialect.LevelRepeatableRead, nil
	}
	if opts.Profile != nil {
		level, err := dlct.ResolveIsolation(*opts.Profile)
		if err != nil {
			return dialect.LevelDefault, err
		}
		return level, nil
	}
	return dialect.LevelDefault, nil
}

// State reports the transaction's current lifecycle state.
func (tc *TransactionContext) State() State { return State(tc.state.Load()) }

// IsolationLevel returns the level this transaction began at.
func (tc *TransactionContext) IsolationLevel() dialect.IsolationLevel { return tc.level }

// Dialect returns the dialect this transaction was opened against, letting
// a gateway.GatewayContext adapter route key-plan/upsert-shape decisions
// through the pinned connection instead of a fresh one.
func (tc *TransactionContext) Dialect() dialect.Dialect { return tc.dlct }

// Container returns a new SqlContainer bound to this transaction's pinned
// connection, drawing reusable parameters from paramPool.
func (tc *TransactionContext) Container(paramPool *pool.ParameterPool) *sqlcontainer.SqlContainer {
	source := sqlcontainer.PinnedSource{Conn: tc.pinned}
	container := sqlcontainer.NewContainer(tc.dlct, source, paramPool)
	if tc.recorder != nil {
		container.SetRecorder(tc.recorder)
	}
	return container
}

// Savepoint creates a named savepoint via the dialect's savepoint syntax.
func (tc *TransactionContext) Savepoint(ctx context.Context, name string) error {
	if !tc.dlct.Capability().SupportsSavepoints {
		return fmt.Errorf("dialect/sql/txn: %s does not support savepoints", tc.dlct.Product())
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if name == "" {
		tc.savepointCounter++
		name = fmt.Sprintf("sp_%d", tc.savepointCounter)
	}
	_, err := tc.tx.ExecContext(ctx, "SAVEPOINT "+tc.dlct.WrapIdentifier(name))
	return err
}

// RollbackToSavepoint rolls back to a previously created savepoint,
// preserving the surrounding transaction.
func (tc *TransactionContext) RollbackToSavepoint(ctx context.Context, name string) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	_, err := tc.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+tc.dlct.WrapIdentifier(name))
	return err
}

// terminal transitions the state to target if not already terminal,
// reporting whether the call was accepted.
func (tc *TransactionContext) terminal(target State) bool {
	for {
		cur := State(tc.state.Load())
		if cur != Active {
			return false
		}
		if tc.state.CompareAndSwap(int32(Active), int32(target)) {
			return true
		}
	}
}

// AlreadyCompleted is returned by Commit/Rollback when the transaction has
// already reached a terminal state.
type AlreadyCompleted struct{ State State }

func (e *AlreadyCompleted) Error() string {
	return "dialect/sql/txn: transaction already completed"
}

// Commit commits the transaction and releases the pinned connection.
// Terminal: returns AlreadyCompleted on a second call.
func (tc *TransactionContext) Commit() error {
	if !tc.terminal(Committed) {
		return &AlreadyCompleted{State: tc.State()}
	}
	err := tc.tx.Commit()
	_ = tc.strategy.Release(tc.rawConn)
	return err
}

// Rollback rolls back the transaction and releases the pinned connection.
// Terminal: returns AlreadyCompleted on a second call.
func (tc *TransactionContext) Rollback() error {
	if !tc.terminal(RolledBack) {
		return &AlreadyCompleted{State: tc.State()}
	}
	err := tc.tx.Rollback()
	_ = tc.strategy.Release(tc.rawConn)
	return err
}

// WasCommitted reports whether Commit completed successfully.
func (tc *TransactionContext) WasCommitted() bool { return tc.State() == Committed }

// WasRolledBack reports whether Rollback completed, including the
// auto-rollback performed by Dispose when no terminal call was made.
func (tc *TransactionContext) WasRolledBack() bool { return tc.State() == RolledBack }

// IsCompleted reports whether a terminal call (or auto-rollback) has run.
func (tc *TransactionContext) IsCompleted() bool {
	s := tc.State()
	return s == Committed || s == RolledBack || s == Disposed
}

// Dispose auto-rollbacks if no terminal call was made, per spec.md §4.8;
// rollback errors are logged, not propagated, matching the teacher's
// swallow-and-log pattern for best-effort cleanup paths.
func (tc *TransactionContext) Dispose(logRollbackErr func(error)) {
	if tc.terminal(RolledBack) {
		if err := tc.tx.Rollback(); err != nil && logRollbackErr != nil {
			logRollbackErr(err)
		}
		_ = tc.strategy.Release(tc.rawConn)
	}
	tc.state.Store(int32(Disposed))
}

// deadlineContext is a small helper for callers building a mode-lock
// timeout around Begin; kept here rather than duplicated at call sites.
func deadlineContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
