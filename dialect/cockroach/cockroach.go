// Package cockroach registers the CockroachDB dialect. CockroachDB speaks
// the PostgreSQL wire protocol (grounded on github.com/lib/pq, as used by
// the PostgreSQL dialect), so this package reuses lib/pq for error
// classification but declares its own capability table: CockroachDB lacks
// savepoints-as-retry-boundaries semantics identical to PostgreSQL's and
// always runs at SERIALIZABLE under the hood, so FastWithRisks maps to the
// same level as StrictConsistency rather than degrading further.
package cockroach

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/sqlcore/polydb/dialect"
)

func init() {
	dialect.Register(dialect.CockroachDb, New)
}

// New returns a CockroachDB dialect.
func New() dialect.Dialect {
	return crdbDialect{cap: dialect.Capability{
		Product:                  dialect.CockroachDb,
		ParameterMarker:          "$",
		SupportsNamedParameters:  false,
		MaxParameters:            65535,
		NameMaxLen:               63,
		QuotePrefix:              `"`,
		QuoteSuffix:              `"`,
		CompositeSeparator:       ".",
		PrepareStatements:        true,
		SupportsInsertOnConflict: true,
		SupportsSavepoints:       true,
		SupportsWindowFunctions:  true,
		SupportsCTEs:             true,
		SupportsJSON:             true,
		SupportsArrays:           true,
		SupportsUniqueDetection:  true,
		SupportsRCSI:             true,
		MaxSQLFeatureTier:        23,
		SupportedIsolationLevels: []dialect.IsolationLevel{
			dialect.LevelSerializable,
		},
		ProfileMap: map[dialect.IsolationProfile]dialect.IsolationLevel{
			dialect.SafeNonBlockingReads: dialect.LevelSerializable,
			dialect.StrictConsistency:    dialect.LevelSerializable,
			dialect.FastWithRisks:        dialect.LevelSerializable,
		},
	}}
}

type crdbDialect struct{ cap dialect.Capability }

func (d crdbDialect) Product() dialect.SupportedDatabase { return dialect.CockroachDb }
func (d crdbDialect) Capability() dialect.Capability     { return d.cap }
func (d crdbDialect) IsFallback() bool                   { return false }
func (d crdbDialect) WrapIdentifier(name string) string  { return d.cap.WrapIdentifier(name) }

func (d crdbDialect) ParameterMarkerAt(ordinal int, _ string) string {
	return "$" + strconv.Itoa(ordinal+1)
}

func (d crdbDialect) SessionPreamble(readOnly bool) string {
	var sb strings.Builder
	sb.WriteString("SET standard_conforming_strings = on;")
	if readOnly {
		sb.WriteString(" SET default_transaction_read_only = on;")
	}
	return sb.String()
}

func (d crdbDialect) GeneratedKeyPlan() dialect.GeneratedKeyPlan { return dialect.KeyPlanReturning }
func (d crdbDialect) UpsertShape() dialect.UpsertShape           { return dialect.UpsertOnConflictDoUpdate }

func (d crdbDialect) WrapProcedureCall(name string, args []string, _ dialect.ExecutionType) string {
	return "CALL " + d.WrapIdentifier(name) + "(" + strings.Join(args, ", ") + ")"
}

func (d crdbDialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == "23505"
}

func (d crdbDialect) ResolveIsolation(profile dialect.IsolationProfile) (dialect.IsolationLevel, error) {
	level, ok := d.cap.ProfileMap[profile]
	if !ok {
		return dialect.LevelDefault, &profileError{}
	}
	return level, nil
}

type profileError struct{}

func (e *profileError) Error() string                        { return "cockroachdb: unsupported isolation profile" }
func (e *profileError) DbProduct() dialect.SupportedDatabase { return dialect.CockroachDb }
func (e *profileError) Reason() string                       { return "" }

var _ dialect.IsolationProfileError = (*profileError)(nil)
var _ dialect.Dialect = crdbDialect{}
