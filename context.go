package polydb

import (
	"context"
	dbsql "database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sqlcore/polydb/dialect"
	sqlcontainer "github.com/sqlcore/polydb/dialect/sql"
	"github.com/sqlcore/polydb/dialect/sql/pool"
	"github.com/sqlcore/polydb/dialect/sql/txn"

	_ "github.com/sqlcore/polydb/dialect/cockroach"
	_ "github.com/sqlcore/polydb/dialect/duckdb"
	_ "github.com/sqlcore/polydb/dialect/firebird"
	_ "github.com/sqlcore/polydb/dialect/mysql"
	_ "github.com/sqlcore/polydb/dialect/oracle"
	_ "github.com/sqlcore/polydb/dialect/postgres"
	_ "github.com/sqlcore/polydb/dialect/sqlite"
	_ "github.com/sqlcore/polydb/dialect/sqlserver"

	// database/sql driver registrations: dialect/mysql and dialect/postgres
	// already pull in go-sql-driver/mysql and lib/pq as named imports (used
	// directly for driver-specific error classification), but nothing else
	// in the module references modernc.org/sqlite, so it needs its own
	// registration-only import here for dbsql.Open("sqlite", ...) to work.
	_ "modernc.org/sqlite"
)

// driverNames maps a provider to the database/sql driver name it must be
// registered under. Only the products this module carries a concrete
// driver dependency for (spec.md §5 DOMAIN STACK) can actually be opened;
// the rest resolve SQL generation correctly but have no wired driver.
var driverNames = map[dialect.SupportedDatabase]string{
	dialect.PostgreSql:  "postgres",
	dialect.CockroachDb: "postgres",
	dialect.MySql:       "mysql",
	dialect.MariaDb:     "mysql",
	dialect.Sqlite:      "sqlite",
}

// detectableProducts lists the products dialect.DetectProduct has a probe
// for; CockroachDb is reached through the PostgreSql probe's own
// masquerade check rather than its own entry.
var detectableProducts = []dialect.SupportedDatabase{
	dialect.PostgreSql, dialect.SqlServer, dialect.MySql,
	dialect.Sqlite, dialect.Oracle, dialect.Firebird, dialect.DuckDb,
}

// DatabaseContext is the composition root: it owns the opened driver
// connection(s), the resolved Dialect, the chosen ConnectionStrategy, and
// the shared ParameterPool and metrics for one logical database (spec.md
// §6 IDatabaseContext). It satisfies gateway.GatewayContext, so a
// TableGateway can be constructed directly against it.
type DatabaseContext struct {
	cfg  DatabaseContextConfiguration
	dlct dialect.Dialect
	info dialect.ProductInfo
	mode dialect.DbMode

	db   *dbsql.DB
	roDB *dbsql.DB

	strategy pool.Strategy
	stats    *pool.Stats
	governor *pool.Governor
	metrics  *QueryStats
	params   *pool.ParameterPool

	mu       sync.Mutex
	activeTx *Transaction
	disposed atomic.Bool
}

// Open validates and normalizes cfg, opens the driver connection(s),
// detects the backend, resolves a ConnectionStrategy, and returns a ready
// DatabaseContext.
func Open(ctx context.Context, cfg DatabaseContextConfiguration) (*DatabaseContext, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := ParseSupportedDatabase(cfg.ProviderName)
	if err != nil {
		return nil, NewConfigurationError("provider_name", err.Error())
	}
	driverName, ok := driverNames[provider]
	if !ok {
		return nil, NewConfigurationError("provider_name", fmt.Sprintf("no database/sql driver wired for %s in this build", provider))
	}

	db, err := dbsql.Open(driverName, cfg.ConnectionString)
	if err != nil {
		return nil, NewConnectionFailed(PhaseOpen, RoleWrite, err)
	}

	info, dlct, err := detectDialect(ctx, db, provider)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var roDB *dbsql.DB
	if cfg.ReadOnlyConnectionString != "" {
		roDB, err = dbsql.Open(driverName, cfg.ReadOnlyConnectionString)
		if err != nil {
			_ = db.Close()
			return nil, NewConnectionFailed(PhaseOpen, RoleRead, err)
		}
	}

	outcome := pool.ResolveMode(pool.ResolveModeInput{
		Requested:        cfg.DbMode,
		Product:          info.Product,
		ConnectionString: cfg.ConnectionString,
	})
	if outcome.Event != "" {
		slog.Info(outcome.Event, "mode", outcome.Mode.String(), "natural_mode", outcome.Detail)
	}

	stats := &pool.Stats{}
	strategy, err := newStrategy(ctx, outcome.Mode, db, roDB, dlct, stats)
	if err != nil {
		_ = db.Close()
		if roDB != nil {
			_ = roDB.Close()
		}
		return nil, NewConnectionFailed(PhaseOpen, RoleWrite, err)
	}

	var governor *pool.Governor
	if cfg.EnablePoolGovernor {
		governor = pool.NewGovernor(cfg.MaxConcurrentReads, cfg.MaxConcurrentWrites)
		strategy = &governedStrategy{inner: strategy, governor: governor, timeout: cfg.PoolAcquireTimeout}
	}
	var metrics *QueryStats
	if cfg.EnableMetrics {
		metrics = NewQueryStats(cfg.MetricsOptions, LogSlowQueries)
	}

	return &DatabaseContext{
		cfg:      cfg,
		dlct:     dlct,
		info:     info,
		mode:     outcome.Mode,
		db:       db,
		roDB:     roDB,
		strategy: strategy,
		stats:    stats,
		governor: governor,
		metrics:  metrics,
		params:   pool.NewParameterPool(),
	}, nil
}

// sqlDBConn adapts *sql.DB to dialect.Conn: QueryRowContext's return type
// differs (*sql.Row vs the narrower Row interface), so *sql.DB cannot
// satisfy dialect.Conn directly.
type sqlDBConn struct{ db *dbsql.DB }

func (c sqlDBConn) QueryRowContext(ctx context.Context, query string, args ...any) dialect.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// detectDialect runs product detection for provider and returns both the
// ProductInfo and the resolved Dialect. Products the detection probe table
// doesn't cover (MariaDb, CockroachDb specified directly rather than
// discovered via the PostgreSql probe) skip straight to dialect.Open.
func detectDialect(ctx context.Context, db *dbsql.DB, provider dialect.SupportedDatabase) (dialect.ProductInfo, dialect.Dialect, error) {
	probed := false
	for _, p := range detectableProducts {
		if p == provider {
			probed = true
			break
		}
	}
	if !probed {
		dlct, err := dialect.Open(provider)
		if err != nil {
			return dialect.ProductInfo{}, nil, NewConfigurationError("provider_name", err.Error())
		}
		return dialect.ProductInfo{Product: provider}, dlct, nil
	}

	info, err := dialect.DetectProduct(ctx, sqlDBConn{db: db}, provider)
	if err != nil {
		return dialect.ProductInfo{}, nil, NewDialectDetectionError(err)
	}
	if info.IsFallback {
		return info, dialect.NewFallback(), nil
	}
	dlct, err := dialect.Open(info.Product)
	if err != nil {
		return dialect.ProductInfo{}, nil, NewConfigurationError("provider_name", err.Error())
	}
	return info, dlct, nil
}

func newStrategy(ctx context.Context, mode dialect.DbMode, db, roDB *dbsql.DB, dlct dialect.Dialect, stats *pool.Stats) (pool.Strategy, error) {
	switch mode {
	case dialect.KeepAlive:
		write, err := pool.NewKeepAlive(ctx, db, dlct, stats)
		if err != nil {
			return nil, err
		}
		return withReplica(write, roDB, dlct, stats), nil
	case dialect.SingleWriter:
		return pool.NewSingleWriter(ctx, db, dlct, stats)
	case dialect.SingleConnection:
		return pool.NewSingleConnection(ctx, db, dlct, stats)
	default: // Standard
		write := pool.NewStandard(db, dlct, stats)
		return withReplica(write, roDB, dlct, stats), nil
	}
}

// withReplica wraps write in a readReplicaStrategy routing Read
// executions to a Standard strategy over roDB, when roDB is set.
func withReplica(write pool.Strategy, roDB *dbsql.DB, dlct dialect.Dialect, stats *pool.Stats) pool.Strategy {
	if roDB == nil {
		return write
	}
	return &readReplicaStrategy{write: write, read: pool.NewStandard(roDB, dlct, stats)}
}

// readReplicaStrategy routes Read-declared acquisitions to a dedicated
// reader strategy (read_only_connection_string) and everything else to
// the primary write strategy. Release/ReleaseAsync don't need to know
// which side acquired conn: every strategy's Release ultimately disposes
// or returns the TrackedConnection itself.
type readReplicaStrategy struct {
	write pool.Strategy
	read  pool.Strategy
}

func (s *readReplicaStrategy) Acquire(ctx context.Context, execType dialect.ExecutionType, shared bool) (*pool.TrackedConnection, error) {
	if execType == dialect.Read {
		return s.read.Acquire(ctx, execType, shared)
	}
	return s.write.Acquire(ctx, execType, shared)
}

func (s *readReplicaStrategy) Release(conn *pool.TrackedConnection) error {
	return conn.Dispose()
}

func (s *readReplicaStrategy) ReleaseAsync(_ context.Context, conn *pool.TrackedConnection) error {
	return conn.Dispose()
}

func (s *readReplicaStrategy) Dispose() error {
	err := s.write.Dispose()
	if rErr := s.read.Dispose(); rErr != nil && err == nil {
		err = rErr
	}
	return err
}

// governedStrategy wraps a Strategy with a Governor, bounding the number
// of concurrently in-flight reads and writes (spec.md §6
// max_concurrent_reads/max_concurrent_writes) ahead of the underlying
// strategy's own acquisition. The permit release is tracked per
// connection since TrackedConnection carries no extensibility slot for
// caller-owned cleanup.
type governedStrategy struct {
	inner    pool.Strategy
	governor *pool.Governor
	timeout  time.Duration

	mu       sync.Mutex
	releases map[*pool.TrackedConnection]func()
}

func (s *governedStrategy) Acquire(ctx context.Context, execType dialect.ExecutionType, shared bool) (*pool.TrackedConnection, error) {
	var release func()
	var err error
	if execType == dialect.Write {
		release, err = s.governor.AcquireWrite(ctx, s.timeout)
	} else {
		release, err = s.governor.AcquireRead(ctx, s.timeout)
	}
	if err != nil {
		return nil, translateSaturated(err)
	}

	conn, err := s.inner.Acquire(ctx, execType, shared)
	if err != nil {
		release()
		return nil, err
	}

	s.mu.Lock()
	if s.releases == nil {
		s.releases = make(map[*pool.TrackedConnection]func())
	}
	s.releases[conn] = release
	s.mu.Unlock()
	return conn, nil
}

func (s *governedStrategy) takeRelease(conn *pool.TrackedConnection) func() {
	s.mu.Lock()
	release := s.releases[conn]
	delete(s.releases, conn)
	s.mu.Unlock()
	return release
}

func (s *governedStrategy) Release(conn *pool.TrackedConnection) error {
	defer func() {
		if release := s.takeRelease(conn); release != nil {
			release()
		}
	}()
	return s.inner.Release(conn)
}

func (s *governedStrategy) ReleaseAsync(ctx context.Context, conn *pool.TrackedConnection) error {
	defer func() {
		if release := s.takeRelease(conn); release != nil {
			release()
		}
	}()
	return s.inner.ReleaseAsync(ctx, conn)
}

func (s *governedStrategy) Dispose() error { return s.inner.Dispose() }

// translateSaturated maps pool.SaturatedError onto the root PoolSaturated
// error, at the DatabaseContext boundary (spec.md §7).
func translateSaturated(err error) error {
	if e, ok := err.(*pool.SaturatedError); ok {
		return NewPoolSaturated(e.Label, 0, 0, 0, e.Timeout.String())
	}
	return err
}

// Product returns the backend this context detected or was told to target.
func (c *DatabaseContext) Product() dialect.SupportedDatabase { return c.info.Product }

// ProductInfo returns the full detection result (version, feature tier,
// whether detection fell back to the conservative dialect).
func (c *DatabaseContext) ProductInfo() dialect.ProductInfo { return c.info }

// Mode returns the resolved connection lifecycle strategy.
func (c *DatabaseContext) Mode() dialect.DbMode { return c.mode }

// Dialect returns the resolved Dialect, satisfying gateway.GatewayContext.
func (c *DatabaseContext) Dialect() dialect.Dialect { return c.dlct }

// Stats returns the shared open-count/high-water-mark counters.
func (c *DatabaseContext) Stats() *pool.Stats { return c.stats }

// Metrics returns the QueryStats collector, or nil if EnableMetrics was
// false.
func (c *DatabaseContext) Metrics() *QueryStats { return c.metrics }

// Container returns a new SqlContainer drawing parameters from paramPool
// and executing through this context's strategy, satisfying
// gateway.GatewayContext. Most callers reach this indirectly via
// gateway.New/gateway.TableGateway; NewContainer is the entry point for ad
// hoc statements against this context directly.
func (c *DatabaseContext) Container(paramPool *pool.ParameterPool) *sqlcontainer.SqlContainer {
	container := sqlcontainer.NewContainer(c.dlct, sqlcontainer.NewStrategySource(c.strategy), paramPool)
	if rec := c.recordFunc(); rec != nil {
		container.SetRecorder(rec)
	}
	return container
}

// recordFunc returns the RecordFunc wiring this context's metrics collector
// into a SqlContainer's execute methods, or nil when EnableMetrics is false.
func (c *DatabaseContext) recordFunc() sqlcontainer.RecordFunc {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.recordExecution
}

// NewContainer returns a SqlContainer drawing parameters from this
// context's own shared ParameterPool (spec.md §5 "Parameter pool: shared
// across one DatabaseContext").
func (c *DatabaseContext) NewContainer() *sqlcontainer.SqlContainer {
	return c.Container(c.params)
}

// TransactionOptions configures BeginTransaction.
type TransactionOptions struct {
	ReadOnly      bool
	Profile       *dialect.IsolationProfile
	ExplicitLevel *dialect.IsolationLevel
}

// BeginTransaction opens a new Transaction pinned to one connection
// acquired from this context's strategy. Nested transactions are
// rejected: calling BeginTransaction again before the previous
// Transaction's Commit/Rollback/Dispose returns ErrNestedTransactionUnsupported
// (spec.md §7).
func (c *DatabaseContext) BeginTransaction(ctx context.Context, opts TransactionOptions) (*Transaction, error) {
	if c.disposed.Load() {
		return nil, ErrDisposed
	}
	if c.cfg.ReadWriteMode == dialect.ReadOnly && !opts.ReadOnly {
		return nil, NewWriteGuardViolation("BeginTransaction requires ReadOnly:true on a read-only DatabaseContext")
	}

	c.mu.Lock()
	if c.activeTx != nil {
		c.mu.Unlock()
		return nil, ErrNestedTransactionUnsupported
	}
	c.mu.Unlock()

	execType := dialect.Write
	if opts.ReadOnly {
		execType = dialect.Read
	}
	tc, err := txn.Begin(ctx, c.strategy, c.dlct, txn.Options{
		ExecType:       execType,
		ReadOnly:       opts.ReadOnly,
		Profile:        opts.Profile,
		ExplicitLevel:  opts.ExplicitLevel,
		AcquireTimeout: c.cfg.ModeLockTimeout,
		Recorder:       c.recordFunc(),
	})
	if err != nil {
		return nil, translateTxError(c.info.Product, err)
	}

	t := &Transaction{tc: tc, parent: c}
	c.mu.Lock()
	c.activeTx = t
	c.mu.Unlock()
	return t, nil
}

// clearActiveTx is called by Transaction once it reaches a terminal state.
func (c *DatabaseContext) clearActiveTx(t *Transaction) {
	c.mu.Lock()
	if c.activeTx == t {
		c.activeTx = nil
	}
	c.mu.Unlock()
}

// translateTxError maps dialect/sql/txn's local error types onto the root
// error taxonomy at the DatabaseContext boundary (spec.md §7).
func translateTxError(product dialect.SupportedDatabase, err error) error {
	if e, ok := err.(*txn.ModeNotSupported); ok {
		return NewTransactionModeNotSupported(product.String(), e.Level.String())
	}
	if e, ok := err.(dialect.IsolationProfileError); ok {
		return NewUnsupportedIsolation(e.DbProduct().String(), "", e.Reason())
	}
	return err
}

// AssertWriteAllowed returns ErrAssertIsWriteConnection if this context is
// ReadOnly, for callers about to issue a Write-declared execution outside
// a TableGateway/TableGateway-adjacent helper.
func (c *DatabaseContext) AssertWriteAllowed() error {
	if c.cfg.ReadWriteMode == dialect.ReadOnly {
		return ErrAssertIsWriteConnection
	}
	return nil
}

// Dispose tears down the strategy and closes the underlying *sql.DB
// handle(s). Safe to call more than once.
func (c *DatabaseContext) Dispose() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.strategy.Dispose()
	if cErr := c.db.Close(); cErr != nil && err == nil {
		err = cErr
	}
	if c.roDB != nil {
		if cErr := c.roDB.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}
	return err
}

// Transaction wraps a dialect/sql/txn.TransactionContext, clearing its
// parent DatabaseContext's nested-transaction guard on every terminal
// call, and satisfies gateway.GatewayContext so it can be passed as a
// TableGateway override (spec.md §6 "CRUD operations accept an optional
// IDatabaseContext override").
type Transaction struct {
	tc     *txn.TransactionContext
	parent *DatabaseContext
}

// Dialect returns the transaction's dialect.
func (t *Transaction) Dialect() dialect.Dialect { return t.tc.Dialect() }

// Container returns a SqlContainer bound to this transaction's pinned
// connection.
func (t *Transaction) Container(paramPool *pool.ParameterPool) *sqlcontainer.SqlContainer {
	return t.tc.Container(paramPool)
}

// Savepoint creates a named savepoint.
func (t *Transaction) Savepoint(ctx context.Context, name string) error {
	return t.tc.Savepoint(ctx, name)
}

// RollbackToSavepoint rolls back to a previously created savepoint.
func (t *Transaction) RollbackToSavepoint(ctx context.Context, name string) error {
	return t.tc.RollbackToSavepoint(ctx, name)
}

// Commit commits the underlying transaction and releases the nested-
// transaction guard on the parent DatabaseContext.
func (t *Transaction) Commit() error {
	defer t.parent.clearActiveTx(t)
	return t.tc.Commit()
}

// Rollback rolls back the underlying transaction and releases the
// nested-transaction guard on the parent DatabaseContext.
func (t *Transaction) Rollback() error {
	defer t.parent.clearActiveTx(t)
	return t.tc.Rollback()
}

// Dispose auto-rolls-back if neither Commit nor Rollback was called,
// logging (not propagating) the rollback error, and releases the
// nested-transaction guard.
func (t *Transaction) Dispose() {
	defer t.parent.clearActiveTx(t)
	t.tc.Dispose(func(err error) {
		slog.Warn("transaction auto-rollback failed", "error", err)
	})
}
