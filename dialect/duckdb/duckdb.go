// Package duckdb registers the DuckDB dialect. No Go DuckDB driver
// dependency appears anywhere in the retrieval pack (DESIGN.md), so this
// package implements only the capability/SQL-generation surface every
// dialect needs. polydb.Open has no database/sql driver wired for DuckDB
// and rejects it with a ConfigurationError; callers open their own *sql.DB
// with whichever driver they choose (e.g. marcboeker/go-duckdb) and use
// this dialect with the dialect/sql/pool strategies and
// gateway.NewStrategyContext directly. DuckDB is single-writer
// by construction (one process holds the file lock), which is exactly the
// case the SingleWriter connection strategy models (spec.md §4.2); the
// Best DbMode resolver treats file-backed DuckDB the same way it treats
// file-backed SQLite.
package duckdb

import (
	"strings"

	"github.com/sqlcore/polydb/dialect"
)

func init() {
	dialect.Register(dialect.DuckDb, New)
}

// New returns a DuckDB dialect.
func New() dialect.Dialect {
	return duckdbDialect{cap: dialect.Capability{
		Product:                  dialect.DuckDb,
		ParameterMarker:          "?",
		SupportsNamedParameters:  true,
		MaxParameters:            2000,
		NameMaxLen:               64,
		QuotePrefix:              `"`,
		QuoteSuffix:              `"`,
		CompositeSeparator:       ".",
		PrepareStatements:        true,
		SupportsInsertOnConflict: true,
		SupportsSavepoints:       false,
		SupportsWindowFunctions:  true,
		SupportsCTEs:             true,
		SupportsJSON:             true,
		SupportsArrays:           true,
		SupportsUniqueDetection:  true,
		MaxSQLFeatureTier:        1,
		SupportedIsolationLevels: []dialect.IsolationLevel{
			dialect.LevelSnapshot,
		},
		ProfileMap: map[dialect.IsolationProfile]dialect.IsolationLevel{
			dialect.SafeNonBlockingReads: dialect.LevelSnapshot,
			dialect.StrictConsistency:    dialect.LevelSnapshot,
			dialect.FastWithRisks:        dialect.LevelSnapshot,
		},
	}}
}

type duckdbDialect struct{ cap dialect.Capability }

func (d duckdbDialect) Product() dialect.SupportedDatabase { return dialect.DuckDb }
func (d duckdbDialect) Capability() dialect.Capability     { return d.cap }
func (d duckdbDialect) IsFallback() bool                   { return false }
func (d duckdbDialect) WrapIdentifier(name string) string  { return d.cap.WrapIdentifier(name) }

func (d duckdbDialect) ParameterMarkerAt(_ int, name string) string {
	if name == "" {
		return "?"
	}
	return "$" + name
}

func (d duckdbDialect) SessionPreamble(readOnly bool) string {
	if readOnly {
		return "SET access_mode = 'READ_ONLY';"
	}
	return ""
}

func (d duckdbDialect) GeneratedKeyPlan() dialect.GeneratedKeyPlan { return dialect.KeyPlanReturning }
func (d duckdbDialect) UpsertShape() dialect.UpsertShape           { return dialect.UpsertOnConflictDoUpdate }

// WrapProcedureCall has no native target: DuckDB has no stored procedures,
// only scalar/table macros. Callers route procedure-shaped calls through a
// macro invocation instead (kept for Dialect interface conformance).
func (d duckdbDialect) WrapProcedureCall(name string, args []string, _ dialect.ExecutionType) string {
	return name + "(" + strings.Join(args, ", ") + ")"
}

func (d duckdbDialect) IsUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "violates unique constraint")
}

func (d duckdbDialect) ResolveIsolation(profile dialect.IsolationProfile) (dialect.IsolationLevel, error) {
	level, ok := d.cap.ProfileMap[profile]
	if !ok {
		return dialect.LevelDefault, &profileError{}
	}
	return level, nil
}

type profileError struct{}

func (e *profileError) Error() string                        { return "duckdb: unsupported isolation profile" }
func (e *profileError) DbProduct() dialect.SupportedDatabase { return dialect.DuckDb }
func (e *profileError) Reason() string                       { return "" }

var _ dialect.IsolationProfileError = (*profileError)(nil)
var _ dialect.Dialect = duckdbDialect{}
