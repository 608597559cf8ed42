package gateway

import (
	"context"

	"github.com/sqlcore/polydb/dialect"
	sqlcontainer "github.com/sqlcore/polydb/dialect/sql"
)

// scanInto scans the reader's current row into entity across every mapped
// column, deserializing db:"json" columns on the way (spec.md §4.9).
func (g *TableGateway[Entity, RowID]) scanInto(reader *sqlcontainer.TrackedReader, entity *Entity) error {
	v := entityValue(entity)
	cols := g.info.Columns
	dests := make([]any, len(cols))
	jsonBuf := make(map[int]*string)
	for i, col := range cols {
		if col.IsJSON {
			buf := new(string)
			jsonBuf[i] = buf
			dests[i] = buf
			continue
		}
		dests[i] = fieldFor(v, col).Addr().Interface()
	}
	if err := reader.Scan(dests...); err != nil {
		return err
	}
	for i, col := range cols {
		if buf, ok := jsonBuf[i]; ok {
			if err := scanValueInto(v, col, *buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// whereByID appends "WHERE <id col> = <marker>" bound to id.
func (g *TableGateway[Entity, RowID]) whereByID(c *sqlcontainer.SqlContainer, id RowID) error {
	c.AppendSQL(" WHERE ", c.WrapObjectName(g.info.ID.Name), " = ")
	p, err := c.AddParameter("k", g.info.ID.GoType.String(), id)
	if err != nil {
		return err
	}
	c.AppendSQL(c.MakeParameterName(p.Name))
	return nil
}

// selectAllColumns appends "SELECT <cols> FROM <table>".
func (g *TableGateway[Entity, RowID]) selectAllColumns(c *sqlcontainer.SqlContainer) {
	c.AppendSQL("SELECT ")
	for i, col := range g.info.Columns {
		if i > 0 {
			c.AppendSQL(", ")
		}
		c.AppendSQL(c.WrapObjectName(col.Name))
	}
	c.AppendSQL(" FROM ", qualifiedTableName(c, g.info))
}

// RetrieveOne fetches the single row whose id column equals id. Returns
// (nil, nil) when no row matches; *MultipleRowsFound if more than one
// does, which should be impossible for an id lookup (spec.md §4.7
// RetrieveOne).
func (g *TableGateway[Entity, RowID]) RetrieveOne(ctx context.Context, id RowID, overrides ...GatewayContext) (*Entity, error) {
	if g.info.ID == nil {
		return nil, &EmptyKey{Table: g.info.Table}
	}
	gctx := g.resolveCtx(overrides)
	c := g.container(gctx)
	defer c.Clear()

	g.selectAllColumns(c)
	if err := g.whereByID(c, id); err != nil {
		return nil, err
	}
	return g.fetchAtMostOne(ctx, c)
}

// RetrieveOneByKey fetches the single row matching every column in
// keyEntity's primary key (spec.md §4.7 RetrieveOne "by entity"). Returns
// *EmptyKey if the table declares no primary key columns.
func (g *TableGateway[Entity, RowID]) RetrieveOneByKey(ctx context.Context, keyEntity *Entity, overrides ...GatewayContext) (*Entity, error) {
	if len(g.info.PrimaryKeys) == 0 {
		return nil, &EmptyKey{Table: g.info.Table}
	}
	gctx := g.resolveCtx(overrides)
	c := g.container(gctx)
	defer c.Clear()

	g.selectAllColumns(c)
	v := entityValue(keyEntity)
	c.AppendSQL(" WHERE ")
	for i, col := range g.info.PrimaryKeys {
		if i > 0 {
			c.AppendSQL(" AND ")
		}
		c.AppendSQL(c.WrapObjectName(col.Name), " = ")
		value, err := bindValueOf(v, col)
		if err != nil {
			return nil, err
		}
		p, err := c.AddParameter("k", col.GoType.String(), value)
		if err != nil {
			return nil, err
		}
		c.AppendSQL(c.MakeParameterName(p.Name))
	}
	return g.fetchAtMostOne(ctx, c)
}

func (g *TableGateway[Entity, RowID]) fetchAtMostOne(ctx context.Context, c *sqlcontainer.SqlContainer) (*Entity, error) {
	reader, err := c.ExecuteReader(ctx, dialect.Read)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	if !reader.Next() {
		return nil, reader.Err()
	}
	var entity Entity
	if err := g.scanInto(reader, &entity); err != nil {
		return nil, err
	}
	if reader.Next() {
		return nil, &MultipleRowsFound{Table: g.info.Table, Count: 2}
	}
	return &entity, reader.Err()
}

// Retrieve fetches the rows matching ids, chunked under the dialect's
// parameter limit, preserving the order of ids in the returned slice (a
// nil entry marks an id with no matching row, spec.md §4.7 Retrieve).
func (g *TableGateway[Entity, RowID]) Retrieve(ctx context.Context, ids []RowID, overrides ...GatewayContext) ([]*Entity, error) {
	if g.info.ID == nil {
		return nil, &EmptyKey{Table: g.info.Table}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	gctx := g.resolveCtx(overrides)
	dlct := gctx.Dialect()
	chunkSize := dlct.Capability().MaxBindableParameters()
	if chunkSize < 1 {
		chunkSize = 1
	}

	byID := make(map[any]*Entity, len(ids))
	for start := 0; start < len(ids); start += chunkSize {
		end := min(start+chunkSize, len(ids))
		chunk := ids[start:end]

		c := g.container(gctx)
		g.selectAllColumns(c)
		c.AppendSQL(" WHERE ", c.WrapObjectName(g.info.ID.Name), " IN (")
		for i, id := range chunk {
			if i > 0 {
				c.AppendSQL(", ")
			}
			p, err := c.AddParameter("w", g.info.ID.GoType.String(), id)
			if err != nil {
				c.Clear()
				return nil, err
			}
			c.AppendSQL(c.MakeParameterName(p.Name))
		}
		c.AppendSQL(")")

		reader, err := c.ExecuteReader(ctx, dialect.Read)
		if err != nil {
			c.Clear()
			return nil, err
		}
		for reader.Next() {
			var entity Entity
			if err := g.scanInto(reader, &entity); err != nil {
				reader.Close()
				c.Clear()
				return nil, err
			}
			byID[idValue[RowID](entityValue(&entity), g.info)] = &entity
		}
		err = reader.Err()
		reader.Close()
		c.Clear()
		if err != nil {
			return nil, err
		}
	}

	out := make([]*Entity, len(ids))
	for i, id := range ids {
		out[i] = byID[any(id)]
	}
	return out, nil
}
