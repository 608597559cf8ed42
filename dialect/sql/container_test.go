package sql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/sqlcore/polydb/dialect"
	"github.com/sqlcore/polydb/dialect/mysql"
	"github.com/sqlcore/polydb/dialect/sql/pool"
	"github.com/sqlcore/polydb/dialect/sqlite"
)

// newTestContainer uses the MySQL dialect: its positional "?" markers and
// unnamed-parameter binding keep sqlmock's argument matching simple. The
// named-parameter (sqlite/:name) binding path is exercised directly by
// TestBindArgsUsesNamedParametersWhenSupported below.
func newTestContainer(t *testing.T) (*SqlContainer, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(true)

	dlct := mysql.New()
	strategy := pool.NewStandard(db, dlct, &pool.Stats{})
	source := NewStrategySource(strategy)
	container := NewContainer(dlct, source, pool.NewParameterPool())
	return container, mock, func() { db.Close() }
}

func TestAppendSQLAndWrapObjectName(t *testing.T) {
	c, _, closeDB := newTestContainer(t)
	defer closeDB()

	c.AppendSQL("SELECT * FROM ", c.WrapObjectName("users"), " WHERE id = ", 1)
	require.Equal(t, "SELECT * FROM `users` WHERE id = 1", c.SQL())
}

// limitedDialect overrides Capability().MaxParameters to a small value so
// TestAddParameterEnforcesMaxBindable doesn't need tens of thousands of
// iterations to hit the real MySQL cap.
type limitedDialect struct {
	dialect.Dialect
	cap dialect.Capability
}

func (d limitedDialect) Capability() dialect.Capability { return d.cap }

func TestAddParameterEnforcesMaxBindable(t *testing.T) {
	base := mysql.New()
	cap := base.Capability()
	cap.MaxParameters = 3
	dlct := limitedDialect{Dialect: base, cap: cap}

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	strategy := pool.NewStandard(db, dlct, &pool.Stats{})
	c := NewContainer(dlct, NewStrategySource(strategy), pool.NewParameterPool())

	maxBindable := dlct.Capability().MaxBindableParameters()
	for i := 0; i < maxBindable; i++ {
		_, err := c.AddParameter("w", "int", i)
		require.NoError(t, err)
	}
	_, err = c.AddParameter("w", "int", 0)
	require.Error(t, err)
	var tooMany *TooManyParameters
	require.ErrorAs(t, err, &tooMany)
}

func TestSetAndGetParameterValueUsesBaseName(t *testing.T) {
	c, _, closeDB := newTestContainer(t)
	defer closeDB()

	_, err := c.AddParameter("w", "string", "alice")
	require.NoError(t, err)
	require.True(t, c.SetParameterValue("w0", "bob"))

	v, ok := GetParameterValue[string](c, "w0")
	require.True(t, ok)
	require.Equal(t, "bob", v)
}

func TestExecuteNonQuery(t *testing.T) {
	c, mock, closeDB := newTestContainer(t)
	defer closeDB()

	_, err := c.AddParameter("w", "int", 1)
	require.NoError(t, err)
	c.AppendSQL("DELETE FROM ", c.WrapObjectName("users"), " WHERE id = ", c.MakeParameterName("w0"))

	mock.ExpectExec("SET SESSION sql_mode").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := c.ExecuteNonQuery(context.Background(), dialect.Write)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteScalar(t *testing.T) {
	c, mock, closeDB := newTestContainer(t)
	defer closeDB()

	c.AppendSQL("SELECT COUNT(*) FROM ", c.WrapObjectName("users"))
	mock.ExpectExec("SET SESSION sql_mode").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := ExecuteScalar[int64](context.Background(), c, dialect.Read)
	require.NoError(t, err)
	require.Equal(t, int64(7), n)
}

func TestExecuteReader(t *testing.T) {
	c, mock, closeDB := newTestContainer(t)
	defer closeDB()

	c.AppendSQL("SELECT id FROM ", c.WrapObjectName("users"))
	mock.ExpectExec("SET SESSION sql_mode").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	reader, err := c.ExecuteReader(context.Background(), dialect.Read)
	require.NoError(t, err)
	defer reader.Close()

	var ids []int
	for reader.Next() {
		var id int
		require.NoError(t, reader.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, reader.Err())
	require.Equal(t, []int{1, 2}, ids)
}

func TestWrapForStoredProcedure(t *testing.T) {
	c, _, closeDB := newTestContainer(t)
	defer closeDB()

	_, err := c.AddParameter("w", "int", 1)
	require.NoError(t, err)
	c.AppendSQL("recalc_totals")
	c.WrapForStoredProcedure(dialect.Write, true)
	require.Equal(t, "CALL `recalc_totals`(?)", c.SQL())
}

func TestBindArgsUsesNamedParametersWhenSupported(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dlct := sqlite.New()
	strategy := pool.NewStandard(db, dlct, &pool.Stats{})
	c := NewContainer(dlct, NewStrategySource(strategy), pool.NewParameterPool())

	_, err = c.AddParameter("w", "int", 5)
	require.NoError(t, err)
	c.AppendSQL("SELECT 1 FROM ", c.WrapObjectName("users"), " WHERE id = ", c.MakeParameterName("w0"))
	require.Contains(t, c.SQL(), ":w0")

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT 1 FROM").WithArgs(5).WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = c.ExecuteNonQuery(context.Background(), dialect.Read)
	require.NoError(t, err)
}

func TestSetRecorderReceivesExecTiming(t *testing.T) {
	c, mock, closeDB := newTestContainer(t)
	defer closeDB()

	var calls int
	var gotQuery bool
	var gotSQL string
	c.SetRecorder(func(_ context.Context, sqlText string, _ dialect.ExecutionType, duration time.Duration, err error, isQuery bool) {
		calls++
		gotQuery = isQuery
		gotSQL = sqlText
		require.NoError(t, err)
		require.GreaterOrEqual(t, duration, time.Duration(0))
	})

	c.AppendSQL("DELETE FROM ", c.WrapObjectName("users"))
	mock.ExpectExec("SET SESSION sql_mode").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM").WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := c.ExecuteNonQuery(context.Background(), dialect.Write)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.False(t, gotQuery)
	require.Contains(t, gotSQL, "DELETE FROM")
}

func TestSetRecorderNilDisablesRecording(t *testing.T) {
	c, mock, closeDB := newTestContainer(t)
	defer closeDB()

	var calls int
	c.SetRecorder(func(context.Context, string, dialect.ExecutionType, time.Duration, error, bool) {
		calls++
	})
	c.SetRecorder(nil)

	c.AppendSQL("SELECT 1")
	mock.ExpectExec("SET SESSION sql_mode").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := c.ExecuteNonQuery(context.Background(), dialect.Write)
	require.NoError(t, err)
	require.Equal(t, 0, calls)
}

func TestClearReturnsParametersToPool(t *testing.T) {
	c, _, closeDB := newTestContainer(t)
	defer closeDB()

	_, err := c.AddParameter("w", "int", 1)
	require.NoError(t, err)
	c.AppendSQL("SELECT 1")
	c.Clear()

	require.Equal(t, "", c.SQL())
	_, ok := GetParameterValue[int](c, "w0")
	require.False(t, ok)
}
