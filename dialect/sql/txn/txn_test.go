package txn

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/sqlcore/polydb/dialect"
	"github.com/sqlcore/polydb/dialect/mysql"
	"github.com/sqlcore/polydb/dialect/sql/pool"
	"github.com/sqlcore/polydb/dialect/sqlite"
)

func newTestStrategy(t *testing.T) (pool.Strategy, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(true)
	strategy := pool.NewStandard(db, sqlite.New(), &pool.Stats{})
	return strategy, mock, func() { db.Close() }
}

// newMySQLStrategy exercises isolation-level resolution against a dialect
// whose SupportedIsolationLevels spans more than the single Serializable
// level sqlite supports.
func newMySQLStrategy(t *testing.T) (pool.Strategy, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(true)
	strategy := pool.NewStandard(db, mysql.New(), &pool.Stats{})
	return strategy, mock, func() { db.Close() }
}

func TestBeginCommit(t *testing.T) {
	strategy, mock, closeDB := newTestStrategy(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectCommit()

	tc, err := Begin(context.Background(), strategy, sqlite.New(), Options{ExecType: dialect.Write})
	require.NoError(t, err)
	require.Equal(t, Active, tc.State())

	require.NoError(t, tc.Commit())
	require.True(t, tc.WasCommitted())
	require.True(t, tc.IsCompleted())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginRollback(t *testing.T) {
	strategy, mock, closeDB := newTestStrategy(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectRollback()

	tc, err := Begin(context.Background(), strategy, sqlite.New(), Options{ExecType: dialect.Write})
	require.NoError(t, err)

	require.NoError(t, tc.Rollback())
	require.True(t, tc.WasRolledBack())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitTwiceReturnsAlreadyCompleted(t *testing.T) {
	strategy, mock, closeDB := newTestStrategy(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectCommit()

	tc, err := Begin(context.Background(), strategy, sqlite.New(), Options{ExecType: dialect.Write})
	require.NoError(t, err)
	require.NoError(t, tc.Commit())

	err = tc.Commit()
	require.Error(t, err)
	var already *AlreadyCompleted
	require.ErrorAs(t, err, &already)
}

func TestDisposeWithoutTerminalCallAutoRollsBack(t *testing.T) {
	strategy, mock, closeDB := newTestStrategy(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectRollback()

	tc, err := Begin(context.Background(), strategy, sqlite.New(), Options{ExecType: dialect.Write})
	require.NoError(t, err)

	var loggedErr error
	tc.Dispose(func(err error) { loggedErr = err })

	require.True(t, tc.WasRolledBack())
	require.NoError(t, loggedErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDisposeAfterCommitDoesNotRollback(t *testing.T) {
	strategy, mock, closeDB := newTestStrategy(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectCommit()

	tc, err := Begin(context.Background(), strategy, sqlite.New(), Options{ExecType: dialect.Write})
	require.NoError(t, err)
	require.NoError(t, tc.Commit())

	tc.Dispose(func(error) { t.Fatal("should not rollback after commit") })
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepointAndRollbackToSavepoint(t *testing.T) {
	strategy, mock, closeDB := newTestStrategy(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT "checkpoint"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT "checkpoint"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tc, err := Begin(context.Background(), strategy, sqlite.New(), Options{ExecType: dialect.Write})
	require.NoError(t, err)

	require.NoError(t, tc.Savepoint(context.Background(), "checkpoint"))
	require.NoError(t, tc.RollbackToSavepoint(context.Background(), "checkpoint"))
	require.NoError(t, tc.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExplicitIsolationLevelRejectedWhenUnsupported(t *testing.T) {
	strategy, _, closeDB := newMySQLStrategy(t)
	defer closeDB()

	level := dialect.LevelSnapshot
	_, err := Begin(context.Background(), strategy, mysql.New(), Options{
		ExecType:      dialect.Write,
		ExplicitLevel: &level,
	})
	require.Error(t, err)
	var notSupported *ModeNotSupported
	require.ErrorAs(t, err, &notSupported)
}

func TestReadOnlyWithoutExplicitLevelDefaultsToRepeatableRead(t *testing.T) {
	strategy, mock, closeDB := newMySQLStrategy(t)
	defer closeDB()

	mock.ExpectExec("SET SESSION sql_mode").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectRollback()

	tc, err := Begin(context.Background(), strategy, mysql.New(), Options{ExecType: dialect.Read, ReadOnly: true})
	require.NoError(t, err)
	require.Equal(t, dialect.LevelRepeatableRead, tc.IsolationLevel())
	require.NoError(t, tc.Rollback())
}

func TestContainerExecutesAgainstPinnedTransaction(t *testing.T) {
	strategy, mock, closeDB := newTestStrategy(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WithArgs(1).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tc, err := Begin(context.Background(), strategy, sqlite.New(), Options{ExecType: dialect.Write})
	require.NoError(t, err)

	c := tc.Container(pool.NewParameterPool())
	_, err = c.AddParameter("w", "int", 1)
	require.NoError(t, err)
	c.AppendSQL("INSERT INTO ", c.WrapObjectName("widgets"), " VALUES (", c.MakeParameterName("w0"), ")")

	n, err := c.ExecuteNonQuery(context.Background(), dialect.Write)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, tc.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
