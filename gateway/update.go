package gateway

import (
	"context"
	"reflect"

	"github.com/sqlcore/polydb/dialect"
)

// Update writes entity's UpdatableColumns and, if the table declares a
// version column, performs an optimistic-concurrency check: the WHERE
// clause requires the row's current version to equal the value entity
// held before this call, and the SET clause increments it. A stale
// version produces a 0 affected-row count, not an error — this is the
// spec's "OptimisticConflict" outcome (spec.md §4.7 Update, §7, §9).
func (g *TableGateway[Entity, RowID]) Update(ctx context.Context, entity *Entity, overrides ...GatewayContext) (bool, error) {
	if g.info.ID == nil {
		return false, &EmptyKey{Table: g.info.Table}
	}
	gctx := g.resolveCtx(overrides)
	v := entityValue(entity)

	if c := g.info.UpdatedBy; c != nil || g.info.UpdatedOn != nil {
		audit, err := g.audit.Resolve(ctx)
		if err != nil {
			return false, err
		}
		if c != nil {
			if err := assignCoerced(fieldFor(v, c), audit.UserID); err != nil {
				return false, err
			}
		}
		if c := g.info.UpdatedOn; c != nil {
			if err := assignCoerced(fieldFor(v, c), audit.UTCNow); err != nil {
				return false, err
			}
		}
	}

	cols := g.info.UpdatableColumns()
	id := idValue[RowID](v, g.info)

	c := g.container(gctx)
	defer c.Clear()

	c.AppendSQL("UPDATE ", qualifiedTableName(c, g.info), " SET ")
	var oldVersion reflect.Value
	hasVersion := g.info.VersionColumn != nil
	if hasVersion {
		oldVersion = fieldFor(v, g.info.VersionColumn)
	}

	first := true
	for _, col := range cols {
		if col.IsVersion {
			continue
		}
		if !first {
			c.AppendSQL(", ")
		}
		first = false
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
	if hasVersion {
		if !first {
			c.AppendSQL(", ")
		}
		vc := g.info.VersionColumn
		c.AppendSQL(c.WrapObjectName(vc.Name), " = ", c.WrapObjectName(vc.Name), " + 1")
	}

	c.AppendSQL(" WHERE ", c.WrapObjectName(g.info.ID.Name), " = ")
	p, err := c.AddParameter("k", g.info.ID.GoType.String(), id)
	if err != nil {
		return false, err
	}
	c.AppendSQL(c.MakeParameterName(p.Name))

	if hasVersion {
		vc := g.info.VersionColumn
		c.AppendSQL(" AND ", c.WrapObjectName(vc.Name), " = ")
		p, err := c.AddParameter("v", vc.GoType.String(), oldVersion.Interface())
		if err != nil {
			return false, err
		}
		c.AppendSQL(c.MakeParameterName(p.Name))
	}

	n, err := c.ExecuteNonQuery(ctx, dialect.Write)
	if err != nil {
		return false, g.classifyWriteError(gctx, err)
	}
	if n == 1 && hasVersion {
		if err := assignCoerced(fieldFor(v, g.info.VersionColumn), addOne(oldVersion)); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

// addOne increments an integer-kind reflect.Value by one, returning it as
// the concrete value to assign back into the version field after a
// successful optimistic update.
func addOne(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() + 1
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() + 1
	default:
		return v.Interface()
	}
}
