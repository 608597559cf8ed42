// Package firebird registers the Firebird dialect. No Go Firebird driver
// dependency appears anywhere in the retrieval pack (DESIGN.md), so this
// package implements only the capability/SQL-generation surface every
// dialect needs. polydb.Open has no database/sql driver wired for
// Firebird and rejects it with a ConfigurationError; callers open their
// own *sql.DB with whichever driver they choose (e.g. nakagami/firebirdsql)
// and use this dialect with the dialect/sql/pool strategies and
// gateway.NewStrategyContext directly.
package firebird

import (
	"strconv"
	"strings"

	"github.com/sqlcore/polydb/dialect"
)

func init() {
	dialect.Register(dialect.Firebird, New)
}

// New returns a Firebird dialect. Firebird 3+ supports RETURNING, so
// GeneratedKeyPlan prefers it; the CorrelationToken plan (spec.md §4.4,
// §8 scenario 6) is reserved for pre-3 targets that only this package's
// caller would know about out of band, so it is not modeled as a distinct
// capability flag here — operators targeting legacy Firebird configure
// the gateway's CorrelationToken fallback explicitly.
func New() dialect.Dialect {
	return firebirdDialect{cap: dialect.Capability{
		Product:                  dialect.Firebird,
		ParameterMarker:          "?",
		SupportsNamedParameters:  false,
		MaxParameters:            1499,
		NameMaxLen:               63,
		QuotePrefix:              `"`,
		QuoteSuffix:              `"`,
		CompositeSeparator:       ".",
		PrepareStatements:        true,
		ProcWrapping:             dialect.ProcExecuteProcedure,
		SupportsMerge:            true,
		SupportsSavepoints:       true,
		SupportsWindowFunctions:  true,
		SupportsCTEs:             true,
		SupportsUniqueDetection:  true,
		MaxSQLFeatureTier:        4,
		SupportedIsolationLevels: []dialect.IsolationLevel{
			dialect.LevelReadCommitted,
			dialect.LevelSnapshot,
			dialect.LevelSerializable,
		},
		ProfileMap: map[dialect.IsolationProfile]dialect.IsolationLevel{
			dialect.SafeNonBlockingReads: dialect.LevelSnapshot,
			dialect.StrictConsistency:    dialect.LevelSerializable,
			dialect.FastWithRisks:        dialect.LevelReadCommitted,
		},
		LastInsertIDQuery: "SELECT RDB$GET_CONTEXT('USER_SESSION', 'LAST_KEY') FROM RDB$DATABASE",
	}}
}

type firebirdDialect struct{ cap dialect.Capability }

func (d firebirdDialect) Product() dialect.SupportedDatabase { return dialect.Firebird }
func (d firebirdDialect) Capability() dialect.Capability     { return d.cap }
func (d firebirdDialect) IsFallback() bool                   { return false }
func (d firebirdDialect) WrapIdentifier(name string) string  { return d.cap.WrapIdentifier(name) }

func (d firebirdDialect) ParameterMarkerAt(_ int, _ string) string { return "?" }

func (d firebirdDialect) SessionPreamble(readOnly bool) string {
	if readOnly {
		return "SET TRANSACTION READ ONLY"
	}
	return ""
}

func (d firebirdDialect) GeneratedKeyPlan() dialect.GeneratedKeyPlan {
	return dialect.KeyPlanReturning
}

func (d firebirdDialect) UpsertShape() dialect.UpsertShape { return dialect.UpsertMergeStatement }

func (d firebirdDialect) WrapProcedureCall(name string, args []string, execType dialect.ExecutionType) string {
	if execType == dialect.Write {
		return "EXECUTE PROCEDURE " + d.WrapIdentifier(name) + "(" + strings.Join(args, ", ") + ")"
	}
	return "SELECT * FROM " + d.WrapIdentifier(name) + "(" + strings.Join(args, ", ") + ")"
}

// uniqueViolationErrorCode 335544665 is isc_unique_key_violation.
const uniqueViolationErrorCode = 335544665

func (d firebirdDialect) IsUniqueViolation(err error) bool {
	type coded interface{ Code() int }
	if c, ok := err.(coded); ok {
		return c.Code() == uniqueViolationErrorCode
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "violation of primary or unique key constraint") ||
		strings.Contains(msg, strconv.Itoa(uniqueViolationErrorCode))
}

func (d firebirdDialect) ResolveIsolation(profile dialect.IsolationProfile) (dialect.IsolationLevel, error) {
	level, ok := d.cap.ProfileMap[profile]
	if !ok {
		return dialect.LevelDefault, &profileError{}
	}
	return level, nil
}

type profileError struct{}

func (e *profileError) Error() string                        { return "firebird: unsupported isolation profile" }
func (e *profileError) DbProduct() dialect.SupportedDatabase { return dialect.Firebird }
func (e *profileError) Reason() string                       { return "" }

var _ dialect.IsolationProfileError = (*profileError)(nil)
var _ dialect.Dialect = firebirdDialect{}
