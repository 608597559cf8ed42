// Package schema implements the struct-tag and reflection-driven entity
// metadata cache described in spec.md §4.6: entities declare table/column
// facts via struct tags and an optional TableNamer, and Register produces
// an immutable, cached TableInfo from them.
package schema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// MaxColumnsPerTable is the dialect-independent sanity cap on mapped
// columns per entity (spec.md §3 invariant c). A backend may additionally
// reject overlarge tables at CREATE time; that check is outside this
// package's control.
const MaxColumnsPerTable = 4096

// TableNamer is implemented by entities to declare their table (and,
// optionally, schema) name: "table" or "schema.table". This is the
// Go-idiomatic analogue of the source's [Table] attribute (SPEC_FULL.md §3
// Design Notes "Attribute-driven metadata").
type TableNamer interface {
	TableName() string
}

// ColumnInfo describes one mapped struct field.
type ColumnInfo struct {
	Name       string // db column name
	FieldName  string // Go struct field name
	FieldIndex int    // reflect.StructField.Index[0], used for Field(i)
	GoType     reflect.Type

	IsID       bool
	IDWritable bool

	IsPrimaryKey bool
	IsVersion    bool

	IsCreatedBy bool
	IsCreatedOn bool
	IsUpdatedBy bool
	IsUpdatedOn bool

	NonInsertable bool
	NonUpdateable bool

	IsEnum       bool
	EnumIsString bool // true: (de)serialize by name; false: by numeric value

	IsJSON bool

	// IsCorrelationToken marks the column gateway's KeyPlanCorrelationToken
	// fallback writes a random token into and looks the inserted row up by
	// (spec.md §4.1 KeyPlanCorrelationToken). Declared via db:"...,token".
	IsCorrelationToken bool
}

// TableInfo is the immutable, cached metadata for one entity type
// (spec.md §3 "TableInfo").
type TableInfo struct {
	GoType reflect.Type

	Schema string
	Table  string

	Columns []*ColumnInfo

	ID          *ColumnInfo
	PrimaryKeys []*ColumnInfo

	CreatedBy *ColumnInfo
	CreatedOn *ColumnInfo
	UpdatedBy *ColumnInfo
	UpdatedOn *ColumnInfo

	VersionColumn    *ColumnInfo
	CorrelationToken *ColumnInfo
}

// InsertableColumns returns columns eligible for INSERT: non_insertable is
// false, and the column is not the Id column unless it is writable
// (spec.md §4.7 Create).
func (t *TableInfo) InsertableColumns() []*ColumnInfo {
	cols := make([]*ColumnInfo, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.NonInsertable {
			continue
		}
		if c.IsID && !c.IDWritable {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// UpdatableColumns returns columns eligible for UPDATE SET: non_updateable
// is false, and created_* audit columns are excluded (spec.md §4.7 Update).
func (t *TableInfo) UpdatableColumns() []*ColumnInfo {
	cols := make([]*ColumnInfo, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.NonUpdateable || c.IsCreatedBy || c.IsCreatedOn {
			continue
		}
		if c.IsID || c.IsPrimaryKey {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// Registry caches TableInfo by entity Go type; registration is
// process-wide, immutable after publish, and safe for concurrent readers
// (spec.md §5 "Shared resources").
type Registry struct {
	mu     sync.RWMutex
	tables map[reflect.Type]*TableInfo
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[reflect.Type]*TableInfo)}
}

// Lookup returns the cached TableInfo for goType, if registered.
func (r *Registry) Lookup(goType reflect.Type) (*TableInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tables[goType]
	return info, ok
}

// Register reflects over T (idempotent: a second call for the same type
// returns the cached TableInfo without re-validating) and returns its
// TableInfo, or a *ValidationError describing the first violated
// invariant from spec.md §4.6.
func Register[T any](r *Registry) (*TableInfo, error) {
	var zero T
	goType := reflect.TypeOf(zero)
	for goType.Kind() == reflect.Pointer {
		goType = goType.Elem()
	}

	if info, ok := r.Lookup(goType); ok {
		return info, nil
	}

	info, err := build(goType)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tables[goType]; ok {
		return existing, nil
	}
	r.tables[goType] = info
	return info, nil
}

func build(goType reflect.Type) (*TableInfo, error) {
	if goType.Kind() != reflect.Struct {
		return nil, &ValidationError{Table: goType.Name(), Message: "entity must be a struct type"}
	}

	namer, ok := reflect.New(goType).Interface().(TableNamer)
	if !ok {
		return nil, &ValidationError{Table: goType.Name(), Message: "entity must implement TableName() string"}
	}
	schemaName, tableName := splitTableName(namer.TableName())
	if tableName == "" {
		return nil, &ValidationError{Table: goType.Name(), Message: "TableName() returned an empty table name"}
	}

	info := &TableInfo{GoType: goType, Schema: schemaName, Table: tableName}

	var idCol, versionCol, tokenCol *ColumnInfo
	idCount := 0
	for i := 0; i < goType.NumField(); i++ {
		field := goType.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		tag, ok := field.Tag.Lookup("db")
		if !ok || tag == "-" {
			continue
		}
		col := parseColumnTag(field, i, tag)
		info.Columns = append(info.Columns, col)

		if col.IsID {
			idCount++
			idCol = col
		}
		if col.IsPrimaryKey {
			info.PrimaryKeys = append(info.PrimaryKeys, col)
		}
		if col.IsVersion {
			versionCol = col
		}
		if col.IsCorrelationToken {
			tokenCol = col
		}
		switch {
		case col.IsCreatedBy:
			info.CreatedBy = col
		case col.IsCreatedOn:
			info.CreatedOn = col
		case col.IsUpdatedBy:
			info.UpdatedBy = col
		case col.IsUpdatedOn:
			info.UpdatedOn = col
		}
	}

	if len(info.Columns) == 0 {
		return nil, &ValidationError{Table: info.Table, Message: "entity declares no mapped columns"}
	}
	if len(info.Columns) > MaxColumnsPerTable {
		return nil, &ValidationError{Table: info.Table, Message: fmt.Sprintf("column count %d exceeds cap %d", len(info.Columns), MaxColumnsPerTable)}
	}
	if idCount > 1 {
		return nil, &ValidationError{Table: info.Table, Message: "at most one id column is allowed"}
	}
	if idCol != nil && idCol.IsPrimaryKey {
		return nil, &ValidationError{Table: info.Table, Column: idCol.Name, Message: "a column cannot be both id and primary key"}
	}

	info.ID = idCol
	info.VersionColumn = versionCol
	info.CorrelationToken = tokenCol
	return info, nil
}

func splitTableName(raw string) (schemaName, tableName string) {
	if i := strings.LastIndex(raw, "."); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return "", raw
}

// parseColumnTag parses a `db:"name,flag,flag..."` tag into a ColumnInfo.
// Recognized flags: id, idwritable, pk, version, created_by, created_on,
// updated_by, updated_on, noinsert, noupdate, enum, json, token.
func parseColumnTag(field reflect.StructField, index int, tag string) *ColumnInfo {
	parts := strings.Split(tag, ",")
	col := &ColumnInfo{
		Name:       strings.TrimSpace(parts[0]),
		FieldName:  field.Name,
		FieldIndex: index,
		GoType:     field.Type,
	}
	if col.Name == "" {
		col.Name = strings.ToLower(field.Name)
	}
	for _, flag := range parts[1:] {
		switch strings.TrimSpace(flag) {
		case "id":
			col.IsID = true
		case "idwritable":
			col.IsID = true
			col.IDWritable = true
		case "pk":
			col.IsPrimaryKey = true
		case "version":
			col.IsVersion = true
		case "created_by":
			col.IsCreatedBy = true
		case "created_on":
			col.IsCreatedOn = true
		case "updated_by":
			col.IsUpdatedBy = true
		case "updated_on":
			col.IsUpdatedOn = true
		case "noinsert":
			col.NonInsertable = true
		case "noupdate":
			col.NonUpdateable = true
		case "enum":
			col.IsEnum = true
			col.EnumIsString = underlyingKind(field.Type) == reflect.String
		case "json":
			col.IsJSON = true
		case "token":
			col.IsCorrelationToken = true
		}
	}
	return col
}

func underlyingKind(t reflect.Type) reflect.Kind {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind()
}
