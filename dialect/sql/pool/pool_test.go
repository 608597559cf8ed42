package pool

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/sqlcore/polydb/dialect"
	"github.com/sqlcore/polydb/dialect/sqlite"
)

func TestTrackedConnectionRunsPreambleOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))

	conn, err := db.Conn(context.Background())
	require.NoError(t, err)

	stats := &Stats{}
	tc := NewTrackedConnection(conn, sqlite.New(), false, stats, nil)

	require.NoError(t, tc.Open(context.Background()))
	require.NoError(t, tc.Open(context.Background()))
	require.Equal(t, Open, tc.State())
	require.Equal(t, int64(1), stats.OpenCount())
	require.NoError(t, mock.ExpectationsWereMet())

	require.NoError(t, tc.Dispose())
	require.Equal(t, Disposed, tc.State())
	require.Equal(t, int64(0), stats.OpenCount())
}

func TestStatsHighWaterMark(t *testing.T) {
	stats := &Stats{}
	stats.recordOpen()
	stats.recordOpen()
	stats.recordClose()
	stats.recordOpen()
	require.Equal(t, int64(2), stats.OpenCount())
	require.Equal(t, int64(2), stats.HighWaterMark())
}

func TestParameterPoolRentReturnResetsState(t *testing.T) {
	p := NewParameterPoolWithCap(2)
	params := p.Rent(2)
	require.Len(t, params, 2)
	params[0].Name = "w0"
	params[0].Value = 42
	p.Return(params)
	require.Equal(t, 2, p.Len())

	rerented := p.Rent(1)
	require.Equal(t, "", rerented[0].Name)
	require.Nil(t, rerented[0].Value)
}

func TestParameterPoolDropsOverflow(t *testing.T) {
	p := NewParameterPoolWithCap(1)
	params := p.Rent(3)
	p.Return(params)
	require.Equal(t, 1, p.Len())
}

func TestParameterPoolDrain(t *testing.T) {
	p := NewParameterPoolWithCap(5)
	p.Return(p.Rent(3))
	require.Equal(t, 3, p.Len())
	p.Drain()
	require.Equal(t, 0, p.Len())
}

func TestAsyncLockerSerializesAcquisition(t *testing.T) {
	l := NewAsyncLocker()
	release, err := l.LockAsync(context.Background())
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.LockAsync(context.Background())
		require.NoError(t, err)
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second LockAsync acquired while first holds the lock")
	default:
	}
	release()
	<-acquired
}

func TestAsyncLockerTryLockTimesOut(t *testing.T) {
	l := NewAsyncLocker()
	_, err := l.LockAsync(context.Background())
	require.NoError(t, err)

	_, err = l.TryLockAsync(context.Background(), 1)
	require.Error(t, err)
	var contention *ContentionError
	require.ErrorAs(t, err, &contention)
}

func TestResolveModeSqliteMemory(t *testing.T) {
	out := ResolveMode(ResolveModeInput{Product: dialect.Sqlite, ConnectionString: ":memory:"})
	require.Equal(t, "SingleConnection", out.Mode.String())
	require.Equal(t, "ConnectionModeCoerced", out.Event)
}

func TestResolveModeSqliteFileBacked(t *testing.T) {
	out := ResolveMode(ResolveModeInput{Product: dialect.Sqlite, ConnectionString: "/var/data/app.db"})
	require.Equal(t, "SingleWriter", out.Mode.String())
}

func TestResolveModeExplicitMismatchIsHonoredButReported(t *testing.T) {
	out := ResolveMode(ResolveModeInput{
		Requested:        dialect.Standard,
		Product:          dialect.Sqlite,
		ConnectionString: ":memory:",
	})
	require.Equal(t, dialect.Standard, out.Mode)
	require.Equal(t, "ConnectionModeMismatch", out.Event)
}

func TestResolveModeLocalDB(t *testing.T) {
	out := ResolveMode(ResolveModeInput{
		Product:          dialect.SqlServer,
		ConnectionString: `Server=(localdb)\MSSQLLocalDB;`,
	})
	require.Equal(t, "KeepAlive", out.Mode.String())
}
