// Package postgres registers the PostgreSQL dialect.
//
// Blank-import this package to make dialect.PostgreSql available via
// dialect.Open:
//
//	import _ "github.com/sqlcore/polydb/dialect/postgres"
package postgres

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/sqlcore/polydb/dialect"
)

func init() {
	dialect.Register(dialect.PostgreSql, New)
}

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{1,62}$`)

func capability() dialect.Capability {
	return dialect.Capability{
		Product:                 dialect.PostgreSql,
		ParameterMarker:         "$",
		SupportsNamedParameters: false, // PostgreSQL uses positional $N markers; name is tracked logically only.
		MaxParameters:           65535,
		NameMaxLen:              63,
		NamePattern:             namePattern,
		QuotePrefix:             `"`,
		QuoteSuffix:             `"`,
		CompositeSeparator:      ".",
		PrepareStatements:       true,
		ProcWrapping:            dialect.ProcPostgreSqlCall,
		SupportsMerge:           true,
		SupportsInsertOnConflict: true,
		SupportsSavepoints:      true,
		SupportsWindowFunctions: true,
		SupportsCTEs:            true,
		SupportsJSON:            true,
		SupportsArrays:          true,
		SupportsTemporal:        true,
		SupportsUniqueDetection: true,
		MaxSQLFeatureTier:       16,
		SupportedIsolationLevels: []dialect.IsolationLevel{
			dialect.LevelReadCommitted,
			dialect.LevelRepeatableRead,
			dialect.LevelSerializable,
		},
		ProfileMap: map[dialect.IsolationProfile]dialect.IsolationLevel{
			dialect.SafeNonBlockingReads: dialect.LevelReadCommitted,
			dialect.StrictConsistency:    dialect.LevelSerializable,
			dialect.FastWithRisks:        dialect.LevelReadCommitted,
		},
	}
}

// Options configure the PostgreSQL dialect instance: whether the target
// server has read-committed-snapshot-isolation-equivalent MVCC semantics
// available without surprises (PostgreSQL always does, unlike SQL Server's
// optional RCSI — this flag exists so the dialect can still fail the
// SafeNonBlockingReads profile explicitly per spec.md §8 scenario 8 when a
// caller's deployment is known not to run with sane defaults), and an
// optional session search_path.
type Options struct {
	SearchPath string
	// AssumeRCSI controls Capability.SupportsRCSI. Default true: vanilla
	// PostgreSQL MVCC satisfies SafeNonBlockingReads without blocking.
	// Set false to force the explicit UnsupportedIsolation failure from
	// spec.md §9 for deployments where that assumption does not hold.
	AssumeRCSI *bool
}

// New returns a PostgreSQL dialect with default options.
func New() dialect.Dialect { return NewWithOptions(Options{}) }

// NewWithOptions returns a PostgreSQL dialect configured by opts.
func NewWithOptions(opts Options) dialect.Dialect {
	cap := capability()
	assumeRCSI := true
	if opts.AssumeRCSI != nil {
		assumeRCSI = *opts.AssumeRCSI
	}
	cap.SupportsRCSI = assumeRCSI
	return pgDialect{searchPath: opts.SearchPath, cap: cap}
}

type pgDialect struct {
	searchPath string
	cap        dialect.Capability
}

func (d pgDialect) Product() dialect.SupportedDatabase { return dialect.PostgreSql }
func (d pgDialect) Capability() dialect.Capability     { return d.cap }
func (d pgDialect) IsFallback() bool                   { return false }

func (d pgDialect) WrapIdentifier(name string) string { return d.cap.WrapIdentifier(name) }

func (d pgDialect) ParameterMarkerAt(ordinal int, _ string) string {
	return "$" + strconv.Itoa(ordinal+1)
}

func (d pgDialect) SessionPreamble(readOnly bool) string {
	var sb strings.Builder
	sb.WriteString("SET standard_conforming_strings = on; ")
	sb.WriteString("SET client_min_messages = warning;")
	if d.searchPath != "" {
		sb.WriteString(" SET search_path = " + d.searchPath + ";")
	}
	if readOnly {
		sb.WriteString(" SET default_transaction_read_only = on;")
	}
	return sb.String()
}

func (d pgDialect) GeneratedKeyPlan() dialect.GeneratedKeyPlan { return dialect.KeyPlanReturning }

func (d pgDialect) UpsertShape() dialect.UpsertShape { return dialect.UpsertOnConflictDoUpdate }

func (d pgDialect) WrapProcedureCall(name string, args []string, _ dialect.ExecutionType) string {
	return "CALL " + d.WrapIdentifier(name) + "(" + strings.Join(args, ", ") + ")"
}

// uniqueViolationSQLState is the SQLSTATE class for a unique_violation,
// grounded on lib/pq's errorClass taxonomy (other_examples lib-pq error.go).
const uniqueViolationSQLState = "23505"

func (d pgDialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == uniqueViolationSQLState
}

func (d pgDialect) ResolveIsolation(profile dialect.IsolationProfile) (dialect.IsolationLevel, error) {
	level, ok := d.cap.ProfileMap[profile]
	if !ok {
		return dialect.LevelDefault, &profileError{reason: ""}
	}
	if profile == dialect.SafeNonBlockingReads && !d.cap.SupportsRCSI {
		return dialect.LevelDefault, &profileError{reason: "RcsiNotEnabled"}
	}
	return level, nil
}

type profileError struct{ reason string }

func (e *profileError) Error() string {
	if e.reason != "" {
		return "postgres: unsupported isolation profile: " + e.reason
	}
	return "postgres: unsupported isolation profile"
}
func (e *profileError) DbProduct() dialect.SupportedDatabase { return dialect.PostgreSql }
func (e *profileError) Reason() string                       { return e.reason }

var _ dialect.IsolationProfileError = (*profileError)(nil)
var _ dialect.Dialect = pgDialect{}
