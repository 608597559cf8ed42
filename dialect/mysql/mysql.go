// Package mysql registers the MySQL and MariaDB dialects. Both speak the
// same wire protocol (github.com/go-sql-driver/mysql) and share almost all
// capability flags; MariaDB additionally supports RETURNING from 10.5
// onward is deliberately NOT modeled here (spec.md keeps MySQL/MariaDB on
// SessionScopedFunction via LAST_INSERT_ID(), matching the teacher
// dialect's conservative, version-agnostic default).
package mysql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/sqlcore/polydb/dialect"
)

func init() {
	dialect.Register(dialect.MySql, func() dialect.Dialect { return newDialect(dialect.MySql) })
	dialect.Register(dialect.MariaDb, func() dialect.Dialect { return newDialect(dialect.MariaDb) })
}

// New returns the MySQL dialect.
func New() dialect.Dialect { return newDialect(dialect.MySql) }

// NewMariaDB returns the MariaDB dialect.
func NewMariaDB() dialect.Dialect { return newDialect(dialect.MariaDb) }

func newDialect(product dialect.SupportedDatabase) dialect.Dialect {
	return mysqlDialect{cap: dialect.Capability{
		Product:                 product,
		ParameterMarker:         "?",
		SupportsNamedParameters: false,
		MaxParameters:           65535,
		NameMaxLen:              64,
		QuotePrefix:             "`",
		QuoteSuffix:             "`",
		CompositeSeparator:      ".",
		PrepareStatements:       true,
		ProcWrapping:            dialect.ProcCall,
		SupportsOnDuplicateKey:  true,
		SupportsSavepoints:      true,
		SupportsWindowFunctions: true,
		SupportsCTEs:            true,
		SupportsJSON:            true,
		SupportsUniqueDetection: true,
		MaxSQLFeatureTier:       8,
		SupportedIsolationLevels: []dialect.IsolationLevel{
			dialect.LevelReadUncommitted,
			dialect.LevelReadCommitted,
			dialect.LevelRepeatableRead,
			dialect.LevelSerializable,
		},
		ProfileMap: map[dialect.IsolationProfile]dialect.IsolationLevel{
			dialect.SafeNonBlockingReads: dialect.LevelReadCommitted,
			dialect.StrictConsistency:    dialect.LevelSerializable,
			dialect.FastWithRisks:        dialect.LevelReadUncommitted,
		},
		LastInsertIDQuery: "SELECT LAST_INSERT_ID()",
	}}
}

type mysqlDialect struct{ cap dialect.Capability }

func (d mysqlDialect) Product() dialect.SupportedDatabase { return d.cap.Product }
func (d mysqlDialect) Capability() dialect.Capability     { return d.cap }
func (d mysqlDialect) IsFallback() bool                   { return false }
func (d mysqlDialect) WrapIdentifier(name string) string  { return d.cap.WrapIdentifier(name) }

func (d mysqlDialect) ParameterMarkerAt(_ int, _ string) string { return "?" }

func (d mysqlDialect) SessionPreamble(readOnly bool) string {
	var sb strings.Builder
	sb.WriteString("SET SESSION sql_mode = 'STRICT_TRANS_TABLES,NO_ZERO_DATE,NO_ZERO_IN_DATE,ERROR_FOR_DIVISION_BY_ZERO,ANSI_QUOTES';")
	if readOnly {
		sb.WriteString(" SET SESSION TRANSACTION READ ONLY;")
	}
	return sb.String()
}

func (d mysqlDialect) GeneratedKeyPlan() dialect.GeneratedKeyPlan {
	return dialect.KeyPlanSessionScopedFunction
}

func (d mysqlDialect) UpsertShape() dialect.UpsertShape { return dialect.UpsertOnDuplicateKeyUpdate }

func (d mysqlDialect) WrapProcedureCall(name string, args []string, _ dialect.ExecutionType) string {
	return "CALL " + d.WrapIdentifier(name) + "(" + strings.Join(args, ", ") + ")"
}

// uniqueViolationErrorNumber 1062 (ER_DUP_ENTRY) is documented by
// go-sql-driver/mysql's own error-number table; named explicitly here
// rather than claimed as grounded in the retrieval pack (DESIGN.md).
const uniqueViolationErrorNumber = 1062

func (d mysqlDialect) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == uniqueViolationErrorNumber
}

func (d mysqlDialect) ResolveIsolation(profile dialect.IsolationProfile) (dialect.IsolationLevel, error) {
	level, ok := d.cap.ProfileMap[profile]
	if !ok {
		return dialect.LevelDefault, &profileError{product: d.cap.Product}
	}
	return level, nil
}

type profileError struct{ product dialect.SupportedDatabase }

func (e *profileError) Error() string {
	return e.product.String() + ": unsupported isolation profile"
}
func (e *profileError) DbProduct() dialect.SupportedDatabase { return e.product }
func (e *profileError) Reason() string                       { return "" }

var _ dialect.IsolationProfileError = (*profileError)(nil)
var _ dialect.Dialect = mysqlDialect{}
