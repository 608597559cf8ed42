package polydb_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/sqlcore/polydb"
	"github.com/sqlcore/polydb/dialect/cockroach"
	"github.com/sqlcore/polydb/dialect/mysql"
	"github.com/sqlcore/polydb/dialect/postgres"
	"github.com/sqlcore/polydb/dialect/sql/pool"
	"github.com/sqlcore/polydb/dialect/sqlite"
	"github.com/sqlcore/polydb/gateway"
	"github.com/sqlcore/polydb/schema"
)

type gizmo struct {
	ID   int64  `db:"id,id"`
	Name string `db:"name"`
}

func (gizmo) TableName() string { return "gizmos" }

type keylessGizmo struct {
	Name string `db:"name"`
}

func (keylessGizmo) TableName() string { return "gizmos" }

func newTestGizmoGateway(t *testing.T) (*polydb.Gateway[gizmo, int64], sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(true)

	strategy := pool.NewStandard(db, sqlite.New(), &pool.Stats{})
	gctx := gateway.NewStrategyContext(sqlite.New(), strategy)

	registry := schema.NewRegistry()
	g, err := polydb.NewGateway[gizmo, int64](registry, gctx, nil)
	require.NoError(t, err)

	return g, mock, func() { db.Close() }
}

func TestGatewayTranslatesMultipleRowsFound(t *testing.T) {
	g, mock, closeDB := newTestGizmoGateway(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "a").
			AddRow(int64(2), "b"))

	_, err := g.RetrieveOne(context.Background(), 1)
	require.Error(t, err)
	require.True(t, polydb.IsMultipleRowsFound(err))
}

func TestGatewayTranslatesUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(true)

	strategy := pool.NewStandard(db, sqlite.New(), &pool.Stats{})
	gctx := gateway.NewStrategyContext(sqlite.New(), strategy)
	registry := schema.NewRegistry()
	audit := gateway.NewStaticAuditResolver(gateway.AuditValues{UTCNow: time.Now().UTC()})
	g, err := polydb.NewGateway[gizmo, int64](registry, gctx, audit)
	require.NoError(t, err)

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO").
		WillReturnError(&sqliteConstraintError{})

	_, err = g.Create(context.Background(), &gizmo{Name: "dup"})
	require.Error(t, err)
	require.True(t, polydb.IsUniqueViolation(err))
}

type sqliteConstraintError struct{}

func (e *sqliteConstraintError) Error() string {
	return "UNIQUE constraint failed: gizmos.name"
}

// TestGatewayTranslatesUniqueViolationPostgres guards against
// IsUniqueViolation regressing to a bare concrete-type assertion: every
// write error reaching it has already been wrapped once by
// dialect/sql.ExecuteScalar's fmt.Errorf("dialect/sql: query: %w", err),
// so only errors.As against it survives.
func TestGatewayTranslatesUniqueViolationPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(true)

	strategy := pool.NewStandard(db, postgres.New(), &pool.Stats{})
	gctx := gateway.NewStrategyContext(postgres.New(), strategy)
	registry := schema.NewRegistry()
	audit := gateway.NewStaticAuditResolver(gateway.AuditValues{UTCNow: time.Now().UTC()})
	g, err := polydb.NewGateway[gizmo, int64](registry, gctx, audit)
	require.NoError(t, err)

	mock.ExpectExec("SET standard_conforming_strings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err = g.Create(context.Background(), &gizmo{Name: "dup"})
	require.Error(t, err)
	require.True(t, polydb.IsUniqueViolation(err))
}

// TestGatewayTranslatesUniqueViolationMysql is the MySQL/MariaDB
// counterpart: MySQLError reaches IsUniqueViolation wrapped by
// ExecuteNonQueryThenScalar's fmt.Errorf("dialect/sql: exec: %w", err).
func TestGatewayTranslatesUniqueViolationMysql(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(true)

	strategy := pool.NewStandard(db, mysql.New(), &pool.Stats{})
	gctx := gateway.NewStrategyContext(mysql.New(), strategy)
	registry := schema.NewRegistry()
	audit := gateway.NewStaticAuditResolver(gateway.AuditValues{UTCNow: time.Now().UTC()})
	g, err := polydb.NewGateway[gizmo, int64](registry, gctx, audit)
	require.NoError(t, err)

	mock.ExpectExec("SET SESSION sql_mode").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO").
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'dup' for key 'name'"})

	_, err = g.Create(context.Background(), &gizmo{Name: "dup"})
	require.Error(t, err)
	require.True(t, polydb.IsUniqueViolation(err))
}

// TestGatewayTranslatesUniqueViolationCockroach is the CockroachDB
// counterpart: crdbDialect reuses lib/pq's *pq.Error for classification.
func TestGatewayTranslatesUniqueViolationCockroach(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(true)

	strategy := pool.NewStandard(db, cockroach.New(), &pool.Stats{})
	gctx := gateway.NewStrategyContext(cockroach.New(), strategy)
	registry := schema.NewRegistry()
	audit := gateway.NewStaticAuditResolver(gateway.AuditValues{UTCNow: time.Now().UTC()})
	g, err := polydb.NewGateway[gizmo, int64](registry, gctx, audit)
	require.NoError(t, err)

	mock.ExpectExec("SET standard_conforming_strings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err = g.Create(context.Background(), &gizmo{Name: "dup"})
	require.Error(t, err)
	require.True(t, polydb.IsUniqueViolation(err))
}

func TestGatewayTranslatesEmptyKeyToInvalidValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	strategy := pool.NewStandard(db, sqlite.New(), &pool.Stats{})
	gctx := gateway.NewStrategyContext(sqlite.New(), strategy)
	registry := schema.NewRegistry()
	g, err := polydb.NewGateway[keylessGizmo, int64](registry, gctx, nil)
	require.NoError(t, err)

	_, err = g.Delete(context.Background(), 1)
	require.Error(t, err)
	require.True(t, polydb.IsInvalidValue(err))

	require.NoError(t, mock.ExpectationsWereMet())
}
