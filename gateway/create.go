package gateway

import (
	"context"
	"reflect"

	"github.com/sqlcore/polydb/dialect"
	sqlcontainer "github.com/sqlcore/polydb/dialect/sql"
	"github.com/sqlcore/polydb/schema"
)

// effectiveKeyPlan returns the key-plan override if one was set via
// SetKeyPlanOverride, else the dialect's own GeneratedKeyPlan.
func (g *TableGateway[Entity, RowID]) effectiveKeyPlan(dlct dialect.Dialect) dialect.GeneratedKeyPlan {
	if g.keyPlanOverride != nil {
		return *g.keyPlanOverride
	}
	return dlct.GeneratedKeyPlan()
}

// SetKeyPlanOverride forces plan instead of the dialect's own
// GeneratedKeyPlan for every Create/BatchCreate this gateway performs.
// Exists for the CorrelationToken fallback: a dialect never reports
// KeyPlanCorrelationToken on its own (spec.md §4.1), so a caller targeting
// a legacy backend that lacks RETURNING opts in explicitly here.
func (g *TableGateway[Entity, RowID]) SetKeyPlanOverride(plan dialect.GeneratedKeyPlan) {
	g.keyPlanOverride = &plan
}

// qualifiedTableName renders info's schema-qualified table name, quoted
// per the container's dialect.
func qualifiedTableName(c *sqlcontainer.SqlContainer, info *schema.TableInfo) string {
	if info.Schema == "" {
		return c.WrapObjectName(info.Table)
	}
	return c.WrapObjectName(info.Schema + "." + info.Table)
}

// stampCreateAudit populates created_*/updated_* columns from audit and,
// if present and unset, defaults the version column to 1 (spec.md §4.7
// Create).
func (g *TableGateway[Entity, RowID]) stampCreateAudit(v reflect.Value, audit AuditValues) error {
	for _, c := range []*schema.ColumnInfo{g.info.CreatedBy, g.info.UpdatedBy} {
		if c != nil {
			if err := assignCoerced(fieldFor(v, c), audit.UserID); err != nil {
				return err
			}
		}
	}
	for _, c := range []*schema.ColumnInfo{g.info.CreatedOn, g.info.UpdatedOn} {
		if c != nil {
			if err := assignCoerced(fieldFor(v, c), audit.UTCNow); err != nil {
				return err
			}
		}
	}
	if vc := g.info.VersionColumn; vc != nil {
		fv := fieldFor(v, vc)
		if fv.IsZero() {
			if err := assignCoerced(fv, int64(1)); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildInsert appends an INSERT INTO ... (cols) VALUES (...) statement to
// c for cols, binding each from v. When outputIDCol is non-nil, an OUTPUT
// INSERTED.<col> clause is emitted (SQL Server); when returningIDCol is
// non-nil, a trailing RETURNING <col> clause is emitted (Postgres/SQLite/
// CockroachDB/Firebird 3+/DuckDB).
func (g *TableGateway[Entity, RowID]) buildInsert(c *sqlcontainer.SqlContainer, v reflect.Value, cols []*schema.ColumnInfo, outputIDCol, returningIDCol *schema.ColumnInfo) error {
	c.AppendSQL("INSERT INTO ", qualifiedTableName(c, g.info), " (")
	for i, col := range cols {
		if i > 0 {
			c.AppendSQL(", ")
		}
		c.AppendSQL(c.WrapObjectName(col.Name))
	}
	c.AppendSQL(")")
	if outputIDCol != nil {
		c.AppendSQL(" OUTPUT INSERTED.", c.WrapObjectName(outputIDCol.Name))
	}
	c.AppendSQL(" VALUES (")
	for i, col := range cols {
		if i > 0 {
			c.AppendSQL(", ")
		}
		value, err := bindValueOf(v, col)
		if err != nil {
			return err
		}
		p, err := c.AddParameter("i", col.GoType.String(), value)
		if err != nil {
			return err
		}
		c.AppendSQL(c.MakeParameterName(p.Name))
	}
	c.AppendSQL(")")
	if returningIDCol != nil {
		c.AppendSQL(" RETURNING ", c.WrapObjectName(returningIDCol.Name))
	}
	return nil
}

// Create inserts entity, stamping audit columns and a default version,
// and retrieves any server-generated id per the dialect's GeneratedKeyPlan
// (spec.md §4.7 Create). Returns true when exactly one row was inserted.
func (g *TableGateway[Entity, RowID]) Create(ctx context.Context, entity *Entity, overrides ...GatewayContext) (bool, error) {
	gctx := g.resolveCtx(overrides)
	v := entityValue(entity)

	audit, err := g.audit.Resolve(ctx)
	if err != nil {
		return false, err
	}
	if err := g.stampCreateAudit(v, audit); err != nil {
		return false, err
	}

	cols := g.info.InsertableColumns()
	plan := g.effectiveKeyPlan(gctx.Dialect())

	var ok bool
	switch plan {
	case dialect.KeyPlanPrefetchSequence:
		ok, err = g.createWithPrefetchSequence(ctx, gctx, v, cols)
	case dialect.KeyPlanCorrelationToken:
		ok, err = g.createWithCorrelationToken(ctx, gctx, v, cols)
	case dialect.KeyPlanNaturalKeyLookup:
		ok, err = g.createWithNaturalKeyLookup(ctx, gctx, v, cols)
	default:
		ok, err = g.createDirect(ctx, gctx, v, cols, plan)
	}
	return ok, g.classifyWriteError(gctx, err)
}

// classifyWriteError wraps err in *UniqueViolation when the dialect
// recognizes it as a unique-constraint conflict, so callers can branch on
// a stable error type instead of parsing driver-specific messages.
func (g *TableGateway[Entity, RowID]) classifyWriteError(gctx GatewayContext, err error) error {
	if err == nil {
		return nil
	}
	if gctx.Dialect().IsUniqueViolation(err) {
		return &UniqueViolation{Table: g.info.Table, Err: err}
	}
	return err
}

// createDirect handles the three plans resolvable within a single
// INSERT round trip (None, Returning, OutputInserted) plus the two-step
// SessionScopedFunction plan, which still issues only one container.
func (g *TableGateway[Entity, RowID]) createDirect(ctx context.Context, gctx GatewayContext, v reflect.Value, cols []*schema.ColumnInfo, plan dialect.GeneratedKeyPlan) (bool, error) {
	c := g.container(gctx)
	defer c.Clear()

	var outputCol, returningCol *schema.ColumnInfo
	switch plan {
	case dialect.KeyPlanOutputInserted:
		outputCol = g.info.ID
	case dialect.KeyPlanReturning:
		returningCol = g.info.ID
	}
	if err := g.buildInsert(c, v, cols, outputCol, returningCol); err != nil {
		return false, err
	}

	switch plan {
	case dialect.KeyPlanOutputInserted, dialect.KeyPlanReturning:
		if g.info.ID == nil {
			n, err := c.ExecuteNonQuery(ctx, dialect.Write)
			return n == 1, err
		}
		id, err := sqlcontainer.ExecuteScalar[RowID](ctx, c, dialect.Write)
		if err != nil {
			return false, err
		}
		if err := setIDValue(v, g.info, id); err != nil {
			return false, err
		}
		return true, nil
	case dialect.KeyPlanSessionScopedFunction:
		if g.info.ID == nil {
			n, err := c.ExecuteNonQuery(ctx, dialect.Write)
			return n == 1, err
		}
		affected, id, err := sqlcontainer.ExecuteNonQueryThenScalar[RowID](ctx, c, dialect.Write, gctx.Dialect().Capability().LastInsertIDQuery)
		if err != nil {
			return false, err
		}
		if affected != 1 {
			return false, nil
		}
		if err := setIDValue(v, g.info, id); err != nil {
			return false, err
		}
		return true, nil
	default: // KeyPlanNone
		n, err := c.ExecuteNonQuery(ctx, dialect.Write)
		return n == 1, err
	}
}

// createWithPrefetchSequence fetches the next sequence value before
// inserting (Oracle), binding it as an explicit id parameter rather than
// relying on a server default (spec.md §4.1 KeyPlanPrefetchSequence).
func (g *TableGateway[Entity, RowID]) createWithPrefetchSequence(ctx context.Context, gctx GatewayContext, v reflect.Value, cols []*schema.ColumnInfo) (bool, error) {
	if g.info.ID == nil {
		return g.createDirect(ctx, gctx, v, cols, dialect.KeyPlanNone)
	}
	seq := g.container(gctx)
	seq.AppendSQL("SELECT ", g.info.Table+"_seq", ".NEXTVAL FROM DUAL")
	id, err := sqlcontainer.ExecuteScalar[RowID](ctx, seq, dialect.Write)
	seq.Clear()
	if err != nil {
		return false, err
	}
	if err := setIDValue(v, g.info, id); err != nil {
		return false, err
	}

	c := g.container(gctx)
	defer c.Clear()
	if err := g.buildInsert(c, v, cols, nil, nil); err != nil {
		return false, err
	}
	n, err := c.ExecuteNonQuery(ctx, dialect.Write)
	return n == 1, err
}

// createWithCorrelationToken implements the Firebird-without-RETURNING
// fallback (spec.md §4.1 KeyPlanCorrelationToken, §8 scenario 6): a random
// token is inserted alongside the row, then looked up by that token to
// recover the server-assigned id. Requires a column tagged db:"...,token".
func (g *TableGateway[Entity, RowID]) createWithCorrelationToken(ctx context.Context, gctx GatewayContext, v reflect.Value, cols []*schema.ColumnInfo) (bool, error) {
	tokenCol := g.info.CorrelationToken
	if tokenCol == nil || g.info.ID == nil {
		return g.createDirect(ctx, gctx, v, cols, dialect.KeyPlanNone)
	}

	token := newCorrelationToken()
	if err := assignCoerced(fieldFor(v, tokenCol), token); err != nil {
		return false, err
	}

	c := g.container(gctx)
	defer c.Clear()
	if err := g.buildInsert(c, v, cols, nil, nil); err != nil {
		return false, err
	}
	n, err := c.ExecuteNonQuery(ctx, dialect.Write)
	if err != nil || n != 1 {
		return false, err
	}

	lookup := g.container(gctx)
	defer lookup.Clear()
	lookup.AppendSQL("SELECT ", lookup.WrapObjectName(g.info.ID.Name), " FROM ", qualifiedTableName(lookup, g.info), " WHERE ", lookup.WrapObjectName(tokenCol.Name), " = ")
	if _, err := lookup.AddParameter("w", tokenCol.GoType.String(), token); err != nil {
		return false, err
	}
	lookup.AppendSQL(lookup.MakeParameterName("w0"))
	id, err := sqlcontainer.ExecuteScalar[RowID](ctx, lookup, dialect.Write)
	if err != nil {
		return false, err
	}
	if err := setIDValue(v, g.info, id); err != nil {
		return false, err
	}
	return true, nil
}

// createWithNaturalKeyLookup inserts with no server-generated id retrieval
// and reports whether exactly one row was inserted (spec.md §4.1
// KeyPlanNaturalKeyLookup). The row is not re-selected by its primary key
// columns afterwards, so no id or other server-assigned value is read
// back into the entity.
func (g *TableGateway[Entity, RowID]) createWithNaturalKeyLookup(ctx context.Context, gctx GatewayContext, v reflect.Value, cols []*schema.ColumnInfo) (bool, error) {
	c := g.container(gctx)
	defer c.Clear()
	if err := g.buildInsert(c, v, cols, nil, nil); err != nil {
		return false, err
	}
	n, err := c.ExecuteNonQuery(ctx, dialect.Write)
	return n == 1, err
}
