package sql

import (
	"context"
	dbsql "database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sqlcore/polydb/dialect"
	"github.com/sqlcore/polydb/dialect/sql/pool"
)

// RecordFunc receives timing for one ExecContext/QueryContext call issued by
// a SqlContainer. isQuery distinguishes ExecuteScalar/ExecuteReader
// (query-shaped) from ExecuteNonQuery (exec-shaped), matching how a caller's
// stats collector (e.g. the DatabaseContext metrics QueryStats) buckets its
// counters.
type RecordFunc func(ctx context.Context, sqlText string, execType dialect.ExecutionType, duration time.Duration, err error, isQuery bool)

// TooManyParameters is returned by AddParameter when binding another
// parameter would exceed the dialect's 0.9x-max_parameters safety margin
// (spec.md §3 invariant ii, §4.5).
type TooManyParameters struct {
	MaxAllowed int
	Requested  int
}

func (e *TooManyParameters) Error() string {
	return fmt.Sprintf("dialect/sql: parameter count %d exceeds max allowed %d", e.Requested, e.MaxAllowed)
}

// SqlContainer assembles a single SQL statement with properly bound
// parameters and executes it (spec.md §4.5). Not safe for concurrent use
// by multiple goroutines against the same instance; callers must
// serialize access to one container.
type SqlContainer struct {
	dlct   dialect.Dialect
	source ConnSource
	params *pool.ParameterPool

	buf            strings.Builder
	bound          []*pool.Parameter
	byName         map[string]*pool.Parameter
	prefixCounters map[string]int

	recorder RecordFunc
}

// SetRecorder installs fn to be called with the timing of every subsequent
// ExecContext/QueryContext this container issues. Pass nil to disable.
func (c *SqlContainer) SetRecorder(fn RecordFunc) *SqlContainer {
	c.recorder = fn
	return c
}

func (c *SqlContainer) record(ctx context.Context, execType dialect.ExecutionType, start time.Time, err error, isQuery bool) {
	if c.recorder == nil {
		return
	}
	c.recorder(ctx, c.buf.String(), execType, time.Since(start), err, isQuery)
}

// NewContainer returns an empty SqlContainer bound to dlct, acquiring
// connections through source and reusing parameter objects from pool.
func NewContainer(dlct dialect.Dialect, source ConnSource, paramPool *pool.ParameterPool) *SqlContainer {
	return &SqlContainer{
		dlct:           dlct,
		source:         source,
		params:         paramPool,
		byName:         make(map[string]*pool.Parameter),
		prefixCounters: make(map[string]int),
	}
}

// AppendSQL appends text to the statement buffer. Accepts string, rune,
// byte, int, or anything implementing fmt.Stringer.
func (c *SqlContainer) AppendSQL(parts ...any) *SqlContainer {
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			c.buf.WriteString(v)
		case rune:
			c.buf.WriteRune(v)
		case byte:
			c.buf.WriteByte(v)
		case int:
			c.buf.WriteString(strconv.Itoa(v))
		case fmt.Stringer:
			c.buf.WriteString(v.String())
		default:
			c.buf.WriteString(fmt.Sprint(v))
		}
	}
	return c
}

// SQL returns the statement text assembled so far.
func (c *SqlContainer) SQL() string { return c.buf.String() }

// WrapObjectName quotes name per the dialect's identifier-quoting rules.
func (c *SqlContainer) WrapObjectName(name string) string { return c.dlct.WrapIdentifier(name) }

// MakeParameterName returns the dialect-formatted marker for the
// already-added parameter with the given base name.
func (c *SqlContainer) MakeParameterName(baseName string) string {
	ordinal := -1
	for i, p := range c.bound {
		if p.Name == baseName {
			ordinal = i
			break
		}
	}
	return c.dlct.ParameterMarkerAt(ordinal, baseName)
}

// requiresExplicitSize reports whether this dialect's driver needs an
// explicit string-parameter size. It reports false for every dialect
// today, so AddParameter never sets Parameter.Size.
func (c *SqlContainer) requiresExplicitSize() bool { return false }

// AddParameter binds value under a generated name using prefix (one of
// the fixed operation-kind prefixes: i insert, s set, w where, k key,
// v version, j join, b batch), enforcing the 0.9x-max_parameters safety
// margin.
func (c *SqlContainer) AddParameter(prefix string, dbType string, value any) (*pool.Parameter, error) {
	maxAllowed := c.dlct.Capability().MaxBindableParameters()
	if len(c.bound)+1 > maxAllowed {
		return nil, &TooManyParameters{MaxAllowed: maxAllowed, Requested: len(c.bound) + 1}
	}
	idx := c.prefixCounters[prefix]
	c.prefixCounters[prefix] = idx + 1
	name := prefix + strconv.Itoa(idx)

	p := c.params.Rent(1)[0]
	p.Name = name
	p.DbType = dbType
	p.Value = value
	if s, ok := value.(string); ok && c.requiresExplicitSize() {
		p.Size = max(len(s), 1)
	}
	c.bound = append(c.bound, p)
	c.byName[name] = p
	return p, nil
}

// SetParameterValue updates the value of an already-bound parameter,
// looked up by its base name (never the dialect-prefixed marker text).
func (c *SqlContainer) SetParameterValue(baseName string, value any) bool {
	p, ok := c.byName[baseName]
	if !ok {
		return false
	}
	p.Value = value
	return true
}

// GetParameterValue returns the current value of the parameter named
// baseName, type-asserted to T.
func GetParameterValue[T any](c *SqlContainer, baseName string) (T, bool) {
	var zero T
	p, ok := c.byName[baseName]
	if !ok {
		return zero, false
	}
	v, ok := p.Value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// WrapForStoredProcedure replaces the current buffer (expected to hold
// just a bare procedure name) with a dialect-formatted procedure-call
// invocation over the already-bound parameters.
func (c *SqlContainer) WrapForStoredProcedure(execType dialect.ExecutionType, includeParams bool) *SqlContainer {
	name := strings.TrimSpace(c.buf.String())
	var args []string
	if includeParams {
		for _, p := range c.bound {
			args = append(args, c.dlct.ParameterMarkerAt(len(args), p.Name))
		}
	}
	c.buf.Reset()
	c.buf.WriteString(c.dlct.WrapProcedureCall(name, args, execType))
	return c
}

// Clear resets the container to its initial empty state, returning bound
// parameters to the pool for reuse.
func (c *SqlContainer) Clear() {
	c.buf.Reset()
	c.params.Return(c.bound)
	c.bound = nil
	c.byName = make(map[string]*pool.Parameter)
	c.prefixCounters = make(map[string]int)
}

// bindArgs converts bound parameters into database/sql driver args: named
// (sql.Named) when the dialect supports named parameters, else positional
// in bind order.
func (c *SqlContainer) bindArgs() []any {
	args := make([]any, len(c.bound))
	named := c.dlct.Capability().SupportsNamedParameters
	for i, p := range c.bound {
		if named {
			args[i] = dbsql.Named(p.Name, p.Value)
		} else {
			args[i] = p.Value
		}
	}
	return args
}

// preparedConn pairs an acquired connection with its release callback.
type preparedConn struct {
	conn    *pool.TrackedConnection
	release func()
}

func (c *SqlContainer) acquire(ctx context.Context, execType dialect.ExecutionType) (*preparedConn, error) {
	conn, release, err := c.source.Acquire(ctx, execType)
	if err != nil {
		return nil, err
	}
	if err := conn.Open(ctx); err != nil {
		release()
		return nil, err
	}
	return &preparedConn{conn: conn, release: release}, nil
}

// ExecuteNonQuery executes the assembled statement and returns the number
// of affected rows.
func (c *SqlContainer) ExecuteNonQuery(ctx context.Context, execType dialect.ExecutionType) (int64, error) {
	pc, err := c.acquire(ctx, execType)
	if err != nil {
		return 0, err
	}
	defer pc.release()

	start := time.Now()
	res, err := execQuerierOf(pc.conn).ExecContext(ctx, c.buf.String(), c.bindArgs()...)
	c.record(ctx, execType, start, err, false)
	if err != nil {
		return 0, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	return res.RowsAffected()
}

// ExecuteScalar executes the assembled statement expecting a single row,
// single column result, scanning it into T.
func ExecuteScalar[T any](ctx context.Context, c *SqlContainer, execType dialect.ExecutionType) (T, error) {
	var zero T
	pc, err := c.acquire(ctx, execType)
	if err != nil {
		return zero, err
	}
	defer pc.release()

	start := time.Now()
	rows, err := execQuerierOf(pc.conn).QueryContext(ctx, c.buf.String(), c.bindArgs()...)
	c.record(ctx, execType, start, err, true)
	if err != nil {
		return zero, fmt.Errorf("dialect/sql: query: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return zero, rows.Err()
	}
	var dest T
	if err := rows.Scan(&dest); err != nil {
		return zero, fmt.Errorf("dialect/sql: scan: %w", err)
	}
	return dest, rows.Err()
}

// ExecuteNonQueryThenScalar executes the assembled statement, then, on the
// SAME acquired connection, executes followUpSQL and scans a single
// scalar result. Used by the SessionScopedFunction generated-key plan
// (MySQL's LAST_INSERT_ID(), SQLite's last_insert_rowid()), whose result is
// scoped to the connection/session that ran the INSERT, not just the
// table (spec.md §4.1 GeneratedKeyPlan, §4.7 Create).
func ExecuteNonQueryThenScalar[T any](ctx context.Context, c *SqlContainer, execType dialect.ExecutionType, followUpSQL string) (int64, T, error) {
	var zero T
	pc, err := c.acquire(ctx, execType)
	if err != nil {
		return 0, zero, err
	}
	defer pc.release()

	eq := execQuerierOf(pc.conn)
	start := time.Now()
	res, err := eq.ExecContext(ctx, c.buf.String(), c.bindArgs()...)
	c.record(ctx, execType, start, err, false)
	if err != nil {
		return 0, zero, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, zero, err
	}

	followUpStart := time.Now()
	rows, err := eq.QueryContext(ctx, followUpSQL)
	c.record(ctx, execType, followUpStart, err, true)
	if err != nil {
		return affected, zero, fmt.Errorf("dialect/sql: follow-up query: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return affected, zero, rows.Err()
	}
	var dest T
	if err := rows.Scan(&dest); err != nil {
		return affected, zero, fmt.Errorf("dialect/sql: follow-up scan: %w", err)
	}
	return affected, dest, rows.Err()
}

// ExecuteReader executes the assembled statement and returns a
// TrackedReader the caller must dispose.
func (c *SqlContainer) ExecuteReader(ctx context.Context, execType dialect.ExecutionType) (*TrackedReader, error) {
	pc, err := c.acquire(ctx, execType)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := execQuerierOf(pc.conn).QueryContext(ctx, c.buf.String(), c.bindArgs()...)
	c.record(ctx, execType, start, err, true)
	if err != nil {
		pc.release()
		return nil, fmt.Errorf("dialect/sql: query: %w", err)
	}
	return &TrackedReader{rows: rows, release: pc.release}, nil
}
