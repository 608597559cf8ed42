package gateway

import (
	"context"
	"errors"

	"github.com/sqlcore/polydb/dialect"
	"github.com/sqlcore/polydb/schema"
)

// ErrNilBatch is returned by BatchCreate/BatchUpsert when entities is nil.
var ErrNilBatch = errors.New("gateway: batch argument is nil")

// batchRowsPerChunk computes the spec.md §9 chunking constant: floor(0.9 x
// max_parameters / columns_per_row), at least 1.
func batchRowsPerChunk(dlct dialect.Dialect, columnsPerRow int) int {
	if columnsPerRow < 1 {
		columnsPerRow = 1
	}
	rows := int(float64(dlct.Capability().MaxParameters) * 0.9 / float64(columnsPerRow))
	if rows < 1 {
		rows = 1
	}
	return rows
}

// BatchCreate inserts entities, chunked to stay under the dialect's
// parameter limit (spec.md §4.7 BatchCreate). When the dialect's
// GeneratedKeyPlan is Returning or OutputInserted, generated ids are
// scanned back in insertion order within each chunk; other plans fall
// back to inserting (and, where applicable, retrieving a key for) one row
// at a time, matching BatchUpsert's documented per-row fallback.
func (g *TableGateway[Entity, RowID]) BatchCreate(ctx context.Context, entities []*Entity, overrides ...GatewayContext) (int, error) {
	if entities == nil {
		return 0, ErrNilBatch
	}
	if len(entities) == 0 {
		return 0, nil
	}
	if len(entities) == 1 {
		ok, err := g.Create(ctx, entities[0], overrides...)
		if !ok || err != nil {
			return 0, err
		}
		return 1, nil
	}

	gctx := g.resolveCtx(overrides)
	dlct := gctx.Dialect()
	plan := g.effectiveKeyPlan(dlct)
	cols := g.info.InsertableColumns()

	// Plans other than Returning/OutputInserted don't support a clean
	// multi-row round trip here (SessionScopedFunction's id is
	// connection-scoped per statement, PrefetchSequence/CorrelationToken/
	// NaturalKeyLookup each need their own per-row follow-up query), so
	// they fall back to the full Create dispatch one row at a time.
	if plan != dialect.KeyPlanReturning && plan != dialect.KeyPlanOutputInserted {
		created := 0
		for _, e := range entities {
			ok, err := g.Create(ctx, e, gctx)
			if err != nil {
				return created, err
			}
			if ok {
				created++
			}
		}
		return created, nil
	}

	audit, err := g.audit.Resolve(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range entities {
		if err := g.stampCreateAudit(entityValue(e), audit); err != nil {
			return 0, err
		}
	}

	chunkSize := batchRowsPerChunk(dlct, len(cols))
	created := 0
	for start := 0; start < len(entities); start += chunkSize {
		end := min(start+chunkSize, len(entities))
		n, err := g.insertChunkWithKeys(ctx, gctx, entities[start:end], cols, plan)
		created += n
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

// insertChunkWithKeys builds one multi-row INSERT for rows, retrieving
// each row's generated id via RETURNING/OUTPUT INSERTED in insertion
// order.
func (g *TableGateway[Entity, RowID]) insertChunkWithKeys(ctx context.Context, gctx GatewayContext, rows []*Entity, cols []*schema.ColumnInfo, plan dialect.GeneratedKeyPlan) (int, error) {
	c := g.container(gctx)
	defer c.Clear()

	c.AppendSQL("INSERT INTO ", qualifiedTableName(c, g.info), " (")
	for i, col := range cols {
		if i > 0 {
			c.AppendSQL(", ")
		}
		c.AppendSQL(c.WrapObjectName(col.Name))
	}
	c.AppendSQL(")")
	if plan == dialect.KeyPlanOutputInserted && g.info.ID != nil {
		c.AppendSQL(" OUTPUT INSERTED.", c.WrapObjectName(g.info.ID.Name))
	}
	c.AppendSQL(" VALUES ")
	for r, entity := range rows {
		if r > 0 {
			c.AppendSQL(", ")
		}
		c.AppendSQL("(")
		v := entityValue(entity)
		for i, col := range cols {
			if i > 0 {
				c.AppendSQL(", ")
			}
			value, err := bindValueOf(v, col)
			if err != nil {
				return 0, err
			}
			p, err := c.AddParameter("b", col.GoType.String(), value)
			if err != nil {
				return 0, err
			}
			c.AppendSQL(c.MakeParameterName(p.Name))
		}
		c.AppendSQL(")")
	}
	if plan == dialect.KeyPlanReturning && g.info.ID != nil {
		c.AppendSQL(" RETURNING ", c.WrapObjectName(g.info.ID.Name))
	}

	if g.info.ID == nil {
		n, err := c.ExecuteNonQuery(ctx, dialect.Write)
		return int(n), err
	}

	reader, err := c.ExecuteReader(ctx, dialect.Write)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	count := 0
	for _, entity := range rows {
		if !reader.Next() {
			break
		}
		var id RowID
		if err := reader.Scan(&id); err != nil {
			return count, err
		}
		if err := setIDValue(entityValue(entity), g.info, id); err != nil {
			return count, err
		}
		count++
	}
	return count, reader.Err()
}

// BatchUpsert upserts each of entities. Every dialect in this module
// resolves UpsertShape deterministically, and the multi-row VALUES forms
// (OnConflictDoUpdate/OnDuplicateKeyUpdate/MergeStatement) all require a
// full per-row conflict clause already expressed one row at a time, so
// this degrades to one Upsert call per row rather than a single
// multi-row statement (spec.md §4.7 BatchUpsert "else degrades to
// one-per-row"). Returns the number of rows affected.
func (g *TableGateway[Entity, RowID]) BatchUpsert(ctx context.Context, entities []*Entity, overrides ...GatewayContext) (int, error) {
	if entities == nil {
		return 0, ErrNilBatch
	}
	affected := 0
	for _, e := range entities {
		ok, err := g.Upsert(ctx, e, overrides...)
		if err != nil {
			return affected, err
		}
		if ok {
			affected++
		}
	}
	return affected, nil
}
