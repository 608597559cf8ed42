// Package sqlserver registers the SQL Server dialect. No Go SQL Server
// driver dependency appears anywhere in the retrieval pack (DESIGN.md), so
// this package implements only the capability/SQL-generation surface every
// dialect needs. polydb.Open has no database/sql driver wired for SQL
// Server and rejects it with a ConfigurationError; callers open their own
// *sql.DB with whichever driver they choose (e.g. microsoft/go-mssqldb)
// and use this dialect with the dialect/sql/pool strategies and
// gateway.NewStrategyContext directly.
package sqlserver

import (
	"strconv"
	"strings"

	"github.com/sqlcore/polydb/dialect"
)

func init() {
	dialect.Register(dialect.SqlServer, New)
}

// New returns a SQL Server dialect.
func New() dialect.Dialect {
	return mssqlDialect{cap: dialect.Capability{
		Product:                 dialect.SqlServer,
		ParameterMarker:         "@",
		SupportsNamedParameters: true,
		MaxParameters:           2100,
		NameMaxLen:              128,
		QuotePrefix:             "[",
		QuoteSuffix:             "]",
		CompositeSeparator:      ".",
		PrepareStatements:       true,
		ProcWrapping:            dialect.ProcExec,
		SupportsMerge:           true,
		SupportsSavepoints:      true,
		SupportsWindowFunctions: true,
		SupportsCTEs:            true,
		SupportsJSON:            true,
		SupportsXML:             true,
		SupportsTemporal:        true,
		SupportsUniqueDetection: true,
		MaxSQLFeatureTier:       2022,
		SupportedIsolationLevels: []dialect.IsolationLevel{
			dialect.LevelReadUncommitted,
			dialect.LevelReadCommitted,
			dialect.LevelRepeatableRead,
			dialect.LevelSnapshot,
			dialect.LevelSerializable,
		},
		ProfileMap: map[dialect.IsolationProfile]dialect.IsolationLevel{
			dialect.SafeNonBlockingReads: dialect.LevelSnapshot,
			dialect.StrictConsistency:    dialect.LevelSerializable,
			dialect.FastWithRisks:        dialect.LevelReadUncommitted,
		},
		LastInsertIDQuery: "SELECT SCOPE_IDENTITY()",
	}}
}

type mssqlDialect struct{ cap dialect.Capability }

func (d mssqlDialect) Product() dialect.SupportedDatabase { return dialect.SqlServer }
func (d mssqlDialect) Capability() dialect.Capability     { return d.cap }
func (d mssqlDialect) IsFallback() bool                   { return false }
func (d mssqlDialect) WrapIdentifier(name string) string  { return d.cap.WrapIdentifier(name) }

func (d mssqlDialect) ParameterMarkerAt(_ int, name string) string { return "@" + name }

// requiredSessionOptions are the ANSI-compliance SET options polydb
// requires for every connection. SessionPreamble emits the full batch
// unconditionally, and pool.TrackedConnection runs that text as-is on a
// connection's first open. DBCC USEROPTIONS is not consulted, so options
// that already hold the required value are set again.
var requiredSessionOptions = []string{
	"ANSI_NULLS ON", "ANSI_PADDING ON", "ANSI_WARNINGS ON", "ARITHABORT ON",
	"CONCAT_NULL_YIELDS_NULL ON", "QUOTED_IDENTIFIER ON", "NUMERIC_ROUNDABORT OFF",
}

func (d mssqlDialect) SessionPreamble(readOnly bool) string {
	var sb strings.Builder
	for _, opt := range requiredSessionOptions {
		sb.WriteString("SET " + opt + "; ")
	}
	if readOnly {
		sb.WriteString("SET TRANSACTION ISOLATION LEVEL SNAPSHOT;")
	}
	return strings.TrimSpace(sb.String())
}

// RequiredSessionOptions returns a copy of the SET-option list that
// SessionPreamble emits. No code in this module compares it with DBCC
// USEROPTIONS output.
func RequiredSessionOptions() []string {
	out := make([]string, len(requiredSessionOptions))
	copy(out, requiredSessionOptions)
	return out
}

func (d mssqlDialect) GeneratedKeyPlan() dialect.GeneratedKeyPlan {
	return dialect.KeyPlanOutputInserted
}

func (d mssqlDialect) UpsertShape() dialect.UpsertShape { return dialect.UpsertMergeStatement }

func (d mssqlDialect) WrapProcedureCall(name string, args []string, execType dialect.ExecutionType) string {
	verb := "EXEC"
	if execType == dialect.Write {
		verb = "EXEC"
	}
	return verb + " " + d.WrapIdentifier(name) + " " + strings.Join(args, ", ")
}

// uniqueViolationNumbers are SQL Server error numbers for unique index
// (2601) and unique constraint (2627) violations.
var uniqueViolationNumbers = map[int]bool{2601: true, 2627: true}

func (d mssqlDialect) IsUniqueViolation(err error) bool {
	type numbered interface{ SQLErrorNumber() int }
	if n, ok := err.(numbered); ok {
		return uniqueViolationNumbers[n.SQLErrorNumber()]
	}
	msg := err.Error()
	for num := range uniqueViolationNumbers {
		if strings.Contains(msg, strconv.Itoa(num)) {
			return true
		}
	}
	return false
}

func (d mssqlDialect) ResolveIsolation(profile dialect.IsolationProfile) (dialect.IsolationLevel, error) {
	level, ok := d.cap.ProfileMap[profile]
	if !ok {
		return dialect.LevelDefault, &profileError{}
	}
	return level, nil
}

type profileError struct{}

func (e *profileError) Error() string                        { return "sqlserver: unsupported isolation profile" }
func (e *profileError) DbProduct() dialect.SupportedDatabase { return dialect.SqlServer }
func (e *profileError) Reason() string                       { return "" }

var _ dialect.IsolationProfileError = (*profileError)(nil)
var _ dialect.Dialect = mssqlDialect{}
