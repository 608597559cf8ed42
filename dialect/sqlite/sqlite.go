// Package sqlite registers the SQLite dialect, backed by the pure-Go
// modernc.org/sqlite driver (a teacher dependency).
package sqlite

import (
	"strconv"
	"strings"

	"github.com/sqlcore/polydb/dialect"
)

func init() {
	dialect.Register(dialect.Sqlite, New)
}

// New returns a SQLite dialect. SQLite >= 3.35 supports RETURNING; this
// package targets modernc.org/sqlite's bundled SQLite version, which is
// always new enough, so GeneratedKeyPlan is unconditionally Returning.
func New() dialect.Dialect {
	return sqliteDialect{cap: dialect.Capability{
		Product:                 dialect.Sqlite,
		ParameterMarker:         "?",
		SupportsNamedParameters: true,
		MaxParameters:           999,
		NameMaxLen:              64,
		QuotePrefix:             `"`,
		QuoteSuffix:             `"`,
		CompositeSeparator:      ".",
		PrepareStatements:       true,
		SupportsInsertOnConflict: true,
		SupportsSavepoints:      true,
		SupportsWindowFunctions: true,
		SupportsCTEs:            true,
		SupportsJSON:            true,
		SupportsUniqueDetection: true,
		MaxSQLFeatureTier:       35,
		SupportedIsolationLevels: []dialect.IsolationLevel{
			dialect.LevelSerializable,
		},
		ProfileMap: map[dialect.IsolationProfile]dialect.IsolationLevel{
			dialect.SafeNonBlockingReads: dialect.LevelSerializable,
			dialect.StrictConsistency:    dialect.LevelSerializable,
			dialect.FastWithRisks:        dialect.LevelSerializable,
		},
		LastInsertIDQuery: "SELECT last_insert_rowid()",
	}}
}

type sqliteDialect struct{ cap dialect.Capability }

func (d sqliteDialect) Product() dialect.SupportedDatabase { return dialect.Sqlite }
func (d sqliteDialect) Capability() dialect.Capability     { return d.cap }
func (d sqliteDialect) IsFallback() bool                   { return false }
func (d sqliteDialect) WrapIdentifier(name string) string  { return d.cap.WrapIdentifier(name) }

func (d sqliteDialect) ParameterMarkerAt(ordinal int, name string) string {
	if name == "" {
		return "?"
	}
	return ":" + name
}

func (d sqliteDialect) SessionPreamble(readOnly bool) string {
	if readOnly {
		return "PRAGMA foreign_keys = ON; PRAGMA query_only = ON;"
	}
	return "PRAGMA foreign_keys = ON;"
}

func (d sqliteDialect) GeneratedKeyPlan() dialect.GeneratedKeyPlan { return dialect.KeyPlanReturning }
func (d sqliteDialect) UpsertShape() dialect.UpsertShape           { return dialect.UpsertOnConflictDoUpdate }

func (d sqliteDialect) WrapProcedureCall(name string, args []string, _ dialect.ExecutionType) string {
	// SQLite has no stored procedures; callers route through scalar
	// functions instead. Kept for interface conformance (ProcNone).
	return name + "(" + strings.Join(args, ", ") + ")"
}

func (d sqliteDialect) IsUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func (d sqliteDialect) ResolveIsolation(profile dialect.IsolationProfile) (dialect.IsolationLevel, error) {
	level, ok := d.cap.ProfileMap[profile]
	if !ok {
		return dialect.LevelDefault, &profileError{}
	}
	return level, nil
}

type profileError struct{}

func (e *profileError) Error() string                        { return "sqlite: unsupported isolation profile" }
func (e *profileError) DbProduct() dialect.SupportedDatabase { return dialect.Sqlite }
func (e *profileError) Reason() string                       { return "" }

var _ dialect.IsolationProfileError = (*profileError)(nil)
var _ dialect.Dialect = sqliteDialect{}

// IsMemoryDSN reports whether dsn targets an in-process SQLite database.
// The Best DbMode resolver in dialect/sql/pool applies its own, separate
// check and does not call this function.
func IsMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strconv.Quote(dsn) == `""`
}
