package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type widget struct {
	ID        int64  `db:"id,idwritable"`
	SKU       string `db:"sku,pk"`
	Name      string `db:"name"`
	Status    string `db:"status,enum"`
	Metadata  string `db:"metadata,json"`
	Version   int64  `db:"version,version"`
	CreatedBy string `db:"created_by,created_by,noupdate"`
	CreatedOn string `db:"created_on,created_on,noupdate"`
	UpdatedBy string `db:"updated_by,updated_by"`
	UpdatedOn string `db:"updated_on,updated_on"`
	Internal  string `db:"-"`
	unexported string
}

func (widget) TableName() string { return "inventory.widgets" }

type noTableName struct {
	ID int64 `db:"id,id"`
}

type doubleID struct {
	A int64 `db:"a,id"`
	B int64 `db:"b,id"`
}

func (doubleID) TableName() string { return "double_ids" }

type idAndPK struct {
	A int64 `db:"a,id,pk"`
}

func (idAndPK) TableName() string { return "id_and_pk" }

type noColumns struct {
	unexported string
}

func (noColumns) TableName() string { return "no_columns" }

func TestRegisterParsesTableAndColumns(t *testing.T) {
	r := NewRegistry()
	info, err := Register[widget](r)
	require.NoError(t, err)

	require.Equal(t, "inventory", info.Schema)
	require.Equal(t, "widgets", info.Table)
	require.Len(t, info.Columns, 10)

	require.NotNil(t, info.ID)
	require.Equal(t, "id", info.ID.Name)
	require.True(t, info.ID.IDWritable)

	require.Len(t, info.PrimaryKeys, 1)
	require.Equal(t, "sku", info.PrimaryKeys[0].Name)

	require.NotNil(t, info.VersionColumn)
	require.Equal(t, "version", info.VersionColumn.Name)

	require.NotNil(t, info.CreatedBy)
	require.NotNil(t, info.CreatedOn)
	require.NotNil(t, info.UpdatedBy)
	require.NotNil(t, info.UpdatedOn)
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	first, err := Register[widget](r)
	require.NoError(t, err)
	second, err := Register[widget](r)
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestRegisterRequiresTableNamer(t *testing.T) {
	r := NewRegistry()
	_, err := Register[noTableName](r)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestRegisterRejectsMultipleIDColumns(t *testing.T) {
	r := NewRegistry()
	_, err := Register[doubleID](r)
	require.Error(t, err)
}

func TestRegisterRejectsIDAndPrimaryKeyOverlap(t *testing.T) {
	r := NewRegistry()
	_, err := Register[idAndPK](r)
	require.Error(t, err)
}

func TestRegisterRejectsEntityWithNoColumns(t *testing.T) {
	r := NewRegistry()
	_, err := Register[noColumns](r)
	require.Error(t, err)
}

func TestInsertableColumnsIncludesWritableID(t *testing.T) {
	r := NewRegistry()
	info, err := Register[widget](r)
	require.NoError(t, err)

	insertable := info.InsertableColumns()
	names := make([]string, len(insertable))
	for i, c := range insertable {
		names[i] = c.Name
	}
	require.Contains(t, names, "id") // writable id IS insertable
	require.Contains(t, names, "sku")
}

func TestUpdatableColumnsExcludesCreatedAudit(t *testing.T) {
	r := NewRegistry()
	info, err := Register[widget](r)
	require.NoError(t, err)

	updatable := info.UpdatableColumns()
	for _, c := range updatable {
		require.False(t, c.IsCreatedBy)
		require.False(t, c.IsCreatedOn)
		require.False(t, c.IsID)
		require.False(t, c.IsPrimaryKey)
	}
}
