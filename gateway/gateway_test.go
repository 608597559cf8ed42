package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/sqlcore/polydb/dialect/sql/pool"
	"github.com/sqlcore/polydb/dialect/sqlite"
	"github.com/sqlcore/polydb/schema"
)

type widget struct {
	ID        int64     `db:"id,id"`
	SKU       string    `db:"sku,pk"`
	Name      string    `db:"name"`
	Version   int64     `db:"version,version"`
	CreatedBy string    `db:"created_by,created_by,noupdate"`
	CreatedOn time.Time `db:"created_on,created_on,noupdate"`
	UpdatedBy string    `db:"updated_by,updated_by"`
	UpdatedOn time.Time `db:"updated_on,updated_on"`
}

func (widget) TableName() string { return "widgets" }

func newTestGateway(t *testing.T) (*TableGateway[widget, int64], sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(true)

	strategy := pool.NewStandard(db, sqlite.New(), &pool.Stats{})
	gctx := NewStrategyContext(sqlite.New(), strategy)
	audit := NewStaticAuditResolver(AuditValues{UserID: "alice", UTCNow: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})

	registry := schema.NewRegistry()
	g, err := New[widget, int64](registry, gctx, audit)
	require.NoError(t, err)

	return g, mock, func() { db.Close() }
}

func TestCreateUsesReturningAndStampsAudit(t *testing.T) {
	g, mock, closeDB := newTestGateway(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO").
		WithArgs("sku-1", "widget one", int64(1), "alice", sqlmock.AnyArg(), "alice", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	w := &widget{SKU: "sku-1", Name: "widget one"}
	ok, err := g.Create(context.Background(), w)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), w.ID)
	require.Equal(t, int64(1), w.Version)
	require.Equal(t, "alice", w.CreatedBy)
	require.Equal(t, "alice", w.UpdatedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetrieveOneRoundTrip(t *testing.T) {
	g, mock, closeDB := newTestGateway(t)
	defer closeDB()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku", "name", "version", "created_by", "created_on", "updated_by", "updated_on"}).
			AddRow(int64(42), "sku-1", "widget one", int64(1), "alice", now, "alice", now))

	got, err := g.RetrieveOne(context.Background(), int64(42))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "sku-1", got.SKU)
	require.Equal(t, int64(1), got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetrieveOneNotFoundReturnsNil(t *testing.T) {
	g, mock, closeDB := newTestGateway(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku", "name", "version", "created_by", "created_on", "updated_by", "updated_on"}))

	got, err := g.RetrieveOne(context.Background(), int64(99))
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStaleVersionReturnsFalseWithoutError(t *testing.T) {
	g, mock, closeDB := newTestGateway(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := &widget{ID: 42, SKU: "sku-1", Name: "renamed", Version: 1}
	ok, err := g.Update(context.Background(), w)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(1), w.Version) // not bumped on a no-op update
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSuccessBumpsVersion(t *testing.T) {
	g, mock, closeDB := newTestGateway(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))

	w := &widget{ID: 42, SKU: "sku-1", Name: "renamed", Version: 3}
	ok, err := g.Update(context.Background(), w)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(4), w.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUsesOnConflictDoUpdate(t *testing.T) {
	g, mock, closeDB := newTestGateway(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO .* ON CONFLICT").WillReturnResult(sqlmock.NewResult(1, 1))

	w := &widget{SKU: "sku-1", Name: "widget one"}
	ok, err := g.Upsert(context.Background(), w)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByID(t *testing.T) {
	g, mock, closeDB := newTestGateway(t)
	defer closeDB()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM").WithArgs(int64(42)).WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := g.Delete(context.Background(), int64(42))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchCreateEmptyAndNil(t *testing.T) {
	g, _, closeDB := newTestGateway(t)
	defer closeDB()

	n, err := g.BatchCreate(context.Background(), []*widget{})
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = g.BatchCreate(context.Background(), nil)
	require.ErrorIs(t, err, ErrNilBatch)
}
