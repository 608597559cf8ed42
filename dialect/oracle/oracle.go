// Package oracle registers the Oracle dialect. No Go Oracle driver
// dependency appears anywhere in the retrieval pack (DESIGN.md), so this
// package implements only the capability/SQL-generation surface every
// dialect needs. polydb.Open has no database/sql driver wired for Oracle
// and rejects it with a ConfigurationError; callers open their own *sql.DB
// with whichever driver they choose (e.g. godror/godror or sijms/go-ora)
// and use this dialect with the dialect/sql/pool strategies and
// gateway.NewStrategyContext directly.
package oracle

import (
	"strings"

	"github.com/sqlcore/polydb/dialect"
)

func init() {
	dialect.Register(dialect.Oracle, New)
}

// New returns an Oracle dialect. Oracle has no native upsert/merge-only
// autoincrement path and no RETURNING-based sequence-free key generation
// by default, so GeneratedKeyPlan is PrefetchSequence: the gateway layer
// prefetches NEXTVAL from a per-table sequence before the INSERT runs
// rather than relying on an identity column (spec.md §4.4).
func New() dialect.Dialect {
	return oracleDialect{cap: dialect.Capability{
		Product:                  dialect.Oracle,
		ParameterMarker:          ":",
		SupportsNamedParameters:  true,
		MaxParameters:            1000,
		NameMaxLen:               30,
		QuotePrefix:              `"`,
		QuoteSuffix:              `"`,
		CompositeSeparator:       ".",
		PrepareStatements:        true,
		ProcWrapping:             dialect.ProcOracleBlock,
		SupportsMerge:            true,
		SupportsSavepoints:       true,
		SupportsWindowFunctions:  true,
		SupportsCTEs:             true,
		SupportsJSON:             true,
		SupportsUniqueDetection:  true,
		MaxSQLFeatureTier:        19,
		SupportedIsolationLevels: []dialect.IsolationLevel{
			dialect.LevelReadCommitted,
			dialect.LevelSerializable,
		},
		ProfileMap: map[dialect.IsolationProfile]dialect.IsolationLevel{
			dialect.SafeNonBlockingReads: dialect.LevelReadCommitted,
			dialect.StrictConsistency:    dialect.LevelSerializable,
			dialect.FastWithRisks:        dialect.LevelReadCommitted,
		},
	}}
}

type oracleDialect struct{ cap dialect.Capability }

func (d oracleDialect) Product() dialect.SupportedDatabase { return dialect.Oracle }
func (d oracleDialect) Capability() dialect.Capability     { return d.cap }
func (d oracleDialect) IsFallback() bool                   { return false }
func (d oracleDialect) WrapIdentifier(name string) string  { return d.cap.WrapIdentifier(name) }

func (d oracleDialect) ParameterMarkerAt(_ int, name string) string { return ":" + name }

func (d oracleDialect) SessionPreamble(readOnly bool) string {
	if readOnly {
		return "SET TRANSACTION READ ONLY"
	}
	return ""
}

func (d oracleDialect) GeneratedKeyPlan() dialect.GeneratedKeyPlan {
	return dialect.KeyPlanPrefetchSequence
}

func (d oracleDialect) UpsertShape() dialect.UpsertShape { return dialect.UpsertMergeStatement }

// WrapProcedureCall emits an anonymous PL/SQL block, grounded on Oracle's
// standard bind-variable calling convention for stored procedures; named
// binds are supplied by the caller already formatted via ParameterMarkerAt.
func (d oracleDialect) WrapProcedureCall(name string, args []string, _ dialect.ExecutionType) string {
	return "BEGIN " + d.WrapIdentifier(name) + "(" + strings.Join(args, ", ") + "); END;"
}

// uniqueViolationErrorCode -1 is ORA-00001 (unique constraint violated).
const uniqueViolationErrorCode = -1

func (d oracleDialect) IsUniqueViolation(err error) bool {
	type coded interface{ Code() int }
	if c, ok := err.(coded); ok {
		return c.Code() == uniqueViolationErrorCode
	}
	return strings.Contains(err.Error(), "ORA-00001")
}

func (d oracleDialect) ResolveIsolation(profile dialect.IsolationProfile) (dialect.IsolationLevel, error) {
	level, ok := d.cap.ProfileMap[profile]
	if !ok {
		return dialect.LevelDefault, &profileError{}
	}
	return level, nil
}

type profileError struct{}

func (e *profileError) Error() string                        { return "oracle: unsupported isolation profile" }
func (e *profileError) DbProduct() dialect.SupportedDatabase { return dialect.Oracle }
func (e *profileError) Reason() string                       { return "" }

var _ dialect.IsolationProfileError = (*profileError)(nil)
var _ dialect.Dialect = oracleDialect{}
