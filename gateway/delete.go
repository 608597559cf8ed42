package gateway

import (
	"context"

	"github.com/sqlcore/polydb/dialect"
)

// Delete removes the row matching id. Returns true when exactly one row
// was removed (spec.md §4.7 Delete).
func (g *TableGateway[Entity, RowID]) Delete(ctx context.Context, id RowID, overrides ...GatewayContext) (bool, error) {
	if g.info.ID == nil {
		return false, &EmptyKey{Table: g.info.Table}
	}
	gctx := g.resolveCtx(overrides)
	c := g.container(gctx)
	defer c.Clear()

	c.AppendSQL("DELETE FROM ", qualifiedTableName(c, g.info))
	if err := g.whereByID(c, id); err != nil {
		return false, err
	}
	n, err := c.ExecuteNonQuery(ctx, dialect.Write)
	return n == 1, err
}

// DeleteMany removes every row whose id is in ids, chunked under the
// dialect's parameter limit, returning the total number of rows removed
// (spec.md §4.7 Delete "multi-id form").
func (g *TableGateway[Entity, RowID]) DeleteMany(ctx context.Context, ids []RowID, overrides ...GatewayContext) (int64, error) {
	if g.info.ID == nil {
		return 0, &EmptyKey{Table: g.info.Table}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	gctx := g.resolveCtx(overrides)
	dlct := gctx.Dialect()
	chunkSize := dlct.Capability().MaxBindableParameters()
	if chunkSize < 1 {
		chunkSize = 1
	}

	var total int64
	for start := 0; start < len(ids); start += chunkSize {
		end := min(start+chunkSize, len(ids))
		chunk := ids[start:end]

		c := g.container(gctx)
		c.AppendSQL("DELETE FROM ", qualifiedTableName(c, g.info), " WHERE ", c.WrapObjectName(g.info.ID.Name), " IN (")
		for i, id := range chunk {
			if i > 0 {
				c.AppendSQL(", ")
			}
			p, err := c.AddParameter("w", g.info.ID.GoType.String(), id)
			if err != nil {
				c.Clear()
				return total, err
			}
			c.AppendSQL(c.MakeParameterName(p.Name))
		}
		c.AppendSQL(")")

		n, err := c.ExecuteNonQuery(ctx, dialect.Write)
		c.Clear()
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DeleteByKey removes the row matching every column in keyEntity's
// primary key (spec.md §4.7 Delete "by composite primary key").
func (g *TableGateway[Entity, RowID]) DeleteByKey(ctx context.Context, keyEntity *Entity, overrides ...GatewayContext) (bool, error) {
	if len(g.info.PrimaryKeys) == 0 {
		return false, &EmptyKey{Table: g.info.Table}
	}
	gctx := g.resolveCtx(overrides)
	c := g.container(gctx)
	defer c.Clear()

	v := entityValue(keyEntity)
	c.AppendSQL("DELETE FROM ", qualifiedTableName(c, g.info), " WHERE ")
	for i, col := range g.info.PrimaryKeys {
		if i > 0 {
			c.AppendSQL(" AND ")
		}
		c.AppendSQL(c.WrapObjectName(col.Name), " = ")
		value, err := bindValueOf(v, col)
		if err != nil {
			return false, err
		}
		p, err := c.AddParameter("k", col.GoType.String(), value)
		if err != nil {
			return false, err
		}
		c.AppendSQL(c.MakeParameterName(p.Name))
	}
	n, err := c.ExecuteNonQuery(ctx, dialect.Write)
	return n == 1, err
}
