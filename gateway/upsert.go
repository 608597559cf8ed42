package gateway

import (
	"context"
	"reflect"

	"github.com/sqlcore/polydb/dialect"
	"github.com/sqlcore/polydb/schema"
)

// conflictColumns returns the columns identifying a row for upsert
// purposes: the declared primary key, or the id column when no primary
// key is declared.
func (g *TableGateway[Entity, RowID]) conflictColumns() []*schema.ColumnInfo {
	if len(g.info.PrimaryKeys) > 0 {
		return g.info.PrimaryKeys
	}
	if g.info.ID != nil {
		return []*schema.ColumnInfo{g.info.ID}
	}
	return nil
}

// Upsert inserts entity, or updates it in place if a row with the same
// key already exists, using whichever SQL shape the dialect prefers
// (spec.md §4.7 Upsert, §4.1 UpsertShape). Returns true when a row was
// affected.
func (g *TableGateway[Entity, RowID]) Upsert(ctx context.Context, entity *Entity, overrides ...GatewayContext) (bool, error) {
	gctx := g.resolveCtx(overrides)
	v := entityValue(entity)

	audit, err := g.audit.Resolve(ctx)
	if err != nil {
		return false, err
	}
	if err := g.stampCreateAudit(v, audit); err != nil {
		return false, err
	}

	var ok bool
	shape := gctx.Dialect().UpsertShape()
	switch shape {
	case dialect.UpsertOnConflictDoUpdate:
		ok, err = g.upsertWithConflictClause(ctx, gctx, v, "ON CONFLICT")
	case dialect.UpsertOnDuplicateKeyUpdate:
		ok, err = g.upsertOnDuplicateKey(ctx, gctx, v)
	case dialect.UpsertMergeStatement:
		ok, err = g.upsertMerge(ctx, gctx, v)
	default:
		ok, err = g.upsertFallback(ctx, gctx, entity)
	}
	return ok, g.classifyWriteError(gctx, err)
}

// upsertWithConflictClause builds INSERT ... VALUES (...) ON CONFLICT
// (keys) DO UPDATE SET ... (Postgres, SQLite, CockroachDB).
func (g *TableGateway[Entity, RowID]) upsertWithConflictClause(ctx context.Context, gctx GatewayContext, v reflect.Value, _ string) (bool, error) {
	insertCols := g.info.InsertableColumns()
	updateCols := upsertUpdateColumns(g.info)
	keys := g.conflictColumns()

	c := g.container(gctx)
	defer c.Clear()
	if err := g.buildInsert(c, v, insertCols, nil, nil); err != nil {
		return false, err
	}
	c.AppendSQL(" ON CONFLICT (")
	for i, col := range keys {
		if i > 0 {
			c.AppendSQL(", ")
		}
		c.AppendSQL(c.WrapObjectName(col.Name))
	}
	c.AppendSQL(") DO UPDATE SET ")
	for i, col := range updateCols {
		if i > 0 {
			c.AppendSQL(", ")
		}
		c.AppendSQL(c.WrapObjectName(col.Name), " = EXCLUDED.", c.WrapObjectName(col.Name))
	}
	if vc := g.info.VersionColumn; vc != nil {
		c.AppendSQL(", ", c.WrapObjectName(vc.Name), " = ", qualifiedTableName(c, g.info), ".", c.WrapObjectName(vc.Name), " + 1")
	}

	n, err := c.ExecuteNonQuery(ctx, dialect.Write)
	return n >= 1, err
}

// upsertOnDuplicateKey builds INSERT ... VALUES (...) ON DUPLICATE KEY
// UPDATE ... (MySQL/MariaDB).
func (g *TableGateway[Entity, RowID]) upsertOnDuplicateKey(ctx context.Context, gctx GatewayContext, v reflect.Value) (bool, error) {
	insertCols := g.info.InsertableColumns()
	updateCols := upsertUpdateColumns(g.info)

	c := g.container(gctx)
	defer c.Clear()
	if err := g.buildInsert(c, v, insertCols, nil, nil); err != nil {
		return false, err
	}
	c.AppendSQL(" ON DUPLICATE KEY UPDATE ")
	for i, col := range updateCols {
		if i > 0 {
			c.AppendSQL(", ")
		}
		c.AppendSQL(c.WrapObjectName(col.Name), " = VALUES(", c.WrapObjectName(col.Name), ")")
	}
	if vc := g.info.VersionColumn; vc != nil {
		c.AppendSQL(", ", c.WrapObjectName(vc.Name), " = ", c.WrapObjectName(vc.Name), " + 1")
	}

	n, err := c.ExecuteNonQuery(ctx, dialect.Write)
	return n >= 1, err
}

// upsertMerge builds a MERGE INTO ... USING (SELECT ? AS col, ...) AS src
// ON (keys) WHEN MATCHED THEN UPDATE ... WHEN NOT MATCHED THEN INSERT
// statement (SQL Server, Oracle, Firebird, DuckDB).
func (g *TableGateway[Entity, RowID]) upsertMerge(ctx context.Context, gctx GatewayContext, v reflect.Value) (bool, error) {
	insertCols := g.info.InsertableColumns()
	updateCols := upsertUpdateColumns(g.info)
	keys := g.conflictColumns()

	c := g.container(gctx)
	defer c.Clear()

	c.AppendSQL("MERGE INTO ", qualifiedTableName(c, g.info), " AS tgt USING (SELECT ")
	for i, col := range insertCols {
		if i > 0 {
			c.AppendSQL(", ")
		}
		value, err := bindValueOf(v, col)
		if err != nil {
			return false, err
		}
		p, err := c.AddParameter("s", col.GoType.String(), value)
		if err != nil {
			return false, err
		}
		c.AppendSQL(c.MakeParameterName(p.Name), " AS ", c.WrapObjectName(col.Name))
	}
	c.AppendSQL(") AS src ON (")
	for i, col := range keys {
		if i > 0 {
			c.AppendSQL(" AND ")
		}
		c.AppendSQL("tgt.", c.WrapObjectName(col.Name), " = src.", c.WrapObjectName(col.Name))
	}
	c.AppendSQL(") WHEN MATCHED THEN UPDATE SET ")
	for i, col := range updateCols {
		if i > 0 {
			c.AppendSQL(", ")
		}
		c.AppendSQL(c.WrapObjectName(col.Name), " = src.", c.WrapObjectName(col.Name))
	}
	if vc := g.info.VersionColumn; vc != nil {
		c.AppendSQL(", ", c.WrapObjectName(vc.Name), " = tgt.", c.WrapObjectName(vc.Name), " + 1")
	}
	c.AppendSQL(" WHEN NOT MATCHED THEN INSERT (")
	for i, col := range insertCols {
		if i > 0 {
			c.AppendSQL(", ")
		}
		c.AppendSQL(c.WrapObjectName(col.Name))
	}
	c.AppendSQL(") VALUES (")
	for i, col := range insertCols {
		if i > 0 {
			c.AppendSQL(", ")
		}
		c.AppendSQL("src.", c.WrapObjectName(col.Name))
	}
	c.AppendSQL(")")

	n, err := c.ExecuteNonQuery(ctx, dialect.Write)
	return n >= 1, err
}

// upsertFallback implements UpsertPerRowFallback: an UPDATE is attempted
// first; if it affects no rows, Create runs instead. The two statements
// run without a savepoint: a unique violation from the INSERT (for
// example after a concurrent insert of the same row) is returned as is,
// and no partial rollback is done inside a surrounding transaction.
func (g *TableGateway[Entity, RowID]) upsertFallback(ctx context.Context, gctx GatewayContext, entity *Entity) (bool, error) {
	v := entityValue(entity)
	if g.info.ID == nil || idValueIsZero[RowID](v, g.info) {
		ok, err := g.Create(ctx, entity, gctx)
		return ok, err
	}

	updated, err := g.plainUpdate(ctx, gctx, v)
	if err != nil {
		return false, err
	}
	if updated {
		return true, nil
	}
	return g.Create(ctx, entity, gctx)
}

// plainUpdate runs an UPDATE by id with no optimistic-version gate, used
// only by the upsert fallback (which cannot know the row's current
// version before deciding whether to insert or update).
func (g *TableGateway[Entity, RowID]) plainUpdate(ctx context.Context, gctx GatewayContext, v reflect.Value) (bool, error) {
	cols := upsertUpdateColumns(g.info)
	id := idValue[RowID](v, g.info)

	c := g.container(gctx)
	defer c.Clear()
	c.AppendSQL("UPDATE ", qualifiedTableName(c, g.info), " SET ")
	for i, col := range cols {
		if i > 0 {
			c.AppendSQL(", ")
		}
		c.AppendSQL(c.WrapObjectName(col.Name), " = ")
		value, err := bindValueOf(v, col)
		if err != nil {
			return false, err
		}
		p, err := c.AddParameter("s", col.GoType.String(), value)
		if err != nil {
			return false, err
		}
		c.AppendSQL(c.MakeParameterName(p.Name))
	}
	if vc := g.info.VersionColumn; vc != nil {
		c.AppendSQL(", ", c.WrapObjectName(vc.Name), " = ", c.WrapObjectName(vc.Name), " + 1")
	}
	if err := g.whereByID(c, id); err != nil {
		return false, err
	}
	n, err := c.ExecuteNonQuery(ctx, dialect.Write)
	return n == 1, err
}

// upsertUpdateColumns is UpdatableColumns minus the version column, which
// every upsert shape increments explicitly rather than binding as a plain
// SET target.
func upsertUpdateColumns(info *schema.TableInfo) []*schema.ColumnInfo {
	cols := info.UpdatableColumns()
	out := make([]*schema.ColumnInfo, 0, len(cols))
	for _, c := range cols {
		if c.IsVersion {
			continue
		}
		out = append(out, c)
	}
	return out
}

func idValueIsZero[RowID comparable](v reflect.Value, info *schema.TableInfo) bool {
	if info.ID == nil {
		return true
	}
	return isZero(idValue[RowID](v, info))
}
