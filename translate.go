package polydb

import (
	"context"

	"github.com/sqlcore/polydb/gateway"
	"github.com/sqlcore/polydb/schema"
)

// translateGatewayError maps the gateway package's table-local error types
// onto the DatabaseContext error taxonomy, so callers driving a Gateway
// never need to import gateway's error types directly. Errors gateway
// itself already wraps (driver errors reaching it through Container) pass
// through translateGatewayError unchanged.
func translateGatewayError(err error) error {
	switch e := err.(type) {
	case *gateway.MultipleRowsFound:
		return NewMultipleRowsFound(e.Table, e.Count)
	case *gateway.UniqueViolation:
		return NewUniqueViolation(e.Table, e.Err)
	case *gateway.EmptyKey:
		return NewInvalidValue(e.Table+".id", nil, "primary key value is empty")
	case *gateway.FieldCoercionError:
		return NewInvalidValue(e.FieldName, nil, "cannot assign "+e.FromType+" into "+e.ToType)
	default:
		return err
	}
}

// Gateway wraps a gateway.TableGateway, translating its table-local errors
// to the polydb taxonomy on every call. Build one with
// [NewGateway] rather than constructing gateway.TableGateway
// directly, unless gateway's own error types are wanted as-is.
type Gateway[Entity any, RowID comparable] struct {
	inner *gateway.TableGateway[Entity, RowID]
}

// NewGateway registers Entity with registry (if not already present) and
// returns a Gateway bound to dfltCtx by default (typically a
// *DatabaseContext or *Transaction); audit may be nil for tables with no
// created_by/updated_by columns. Go methods cannot carry their own type
// parameters, so this is a package-level function rather than a
// *DatabaseContext method.
func NewGateway[Entity any, RowID comparable](registry *schema.Registry, dfltCtx gateway.GatewayContext, audit gateway.AuditValueResolver) (*Gateway[Entity, RowID], error) {
	if audit == nil {
		audit = gateway.NewStaticAuditResolver(gateway.AuditValues{})
	}
	inner, err := gateway.New[Entity, RowID](registry, dfltCtx, audit)
	if err != nil {
		return nil, err
	}
	return &Gateway[Entity, RowID]{inner: inner}, nil
}

// TableInfo returns the schema metadata this gateway was built from.
func (g *Gateway[Entity, RowID]) TableInfo() *schema.TableInfo { return g.inner.TableInfo() }

// RetrieveOne fetches the row with the given id, translating a
// multiple-row match or empty-key misuse to the polydb error taxonomy.
func (g *Gateway[Entity, RowID]) RetrieveOne(ctx context.Context, id RowID, overrides ...gateway.GatewayContext) (*Entity, error) {
	entity, err := g.inner.RetrieveOne(ctx, id, overrides...)
	return entity, translateGatewayError(err)
}

// RetrieveOneByKey fetches the row matching keyEntity's natural-key columns.
func (g *Gateway[Entity, RowID]) RetrieveOneByKey(ctx context.Context, keyEntity *Entity, overrides ...gateway.GatewayContext) (*Entity, error) {
	entity, err := g.inner.RetrieveOneByKey(ctx, keyEntity, overrides...)
	return entity, translateGatewayError(err)
}

// Retrieve fetches every row whose id is in ids.
func (g *Gateway[Entity, RowID]) Retrieve(ctx context.Context, ids []RowID, overrides ...gateway.GatewayContext) ([]*Entity, error) {
	entities, err := g.inner.Retrieve(ctx, ids, overrides...)
	return entities, translateGatewayError(err)
}

// Create inserts entity, translating a unique-constraint violation to
// *UniqueViolation.
func (g *Gateway[Entity, RowID]) Create(ctx context.Context, entity *Entity, overrides ...gateway.GatewayContext) (bool, error) {
	ok, err := g.inner.Create(ctx, entity, overrides...)
	return ok, translateGatewayError(err)
}

// Update writes entity's updatable columns, applying the optimistic
// concurrency check described on gateway.TableGateway.Update.
func (g *Gateway[Entity, RowID]) Update(ctx context.Context, entity *Entity, overrides ...gateway.GatewayContext) (bool, error) {
	ok, err := g.inner.Update(ctx, entity, overrides...)
	return ok, translateGatewayError(err)
}

// Upsert inserts entity or updates it on conflict, using the dialect's
// native upsert shape.
func (g *Gateway[Entity, RowID]) Upsert(ctx context.Context, entity *Entity, overrides ...gateway.GatewayContext) (bool, error) {
	ok, err := g.inner.Upsert(ctx, entity, overrides...)
	return ok, translateGatewayError(err)
}

// Delete removes the row matching id.
func (g *Gateway[Entity, RowID]) Delete(ctx context.Context, id RowID, overrides ...gateway.GatewayContext) (bool, error) {
	ok, err := g.inner.Delete(ctx, id, overrides...)
	return ok, translateGatewayError(err)
}

// DeleteMany removes every row whose id is in ids.
func (g *Gateway[Entity, RowID]) DeleteMany(ctx context.Context, ids []RowID, overrides ...gateway.GatewayContext) (int64, error) {
	n, err := g.inner.DeleteMany(ctx, ids, overrides...)
	return n, translateGatewayError(err)
}

// DeleteByKey removes the row matching keyEntity's natural-key columns.
func (g *Gateway[Entity, RowID]) DeleteByKey(ctx context.Context, keyEntity *Entity, overrides ...gateway.GatewayContext) (bool, error) {
	ok, err := g.inner.DeleteByKey(ctx, keyEntity, overrides...)
	return ok, translateGatewayError(err)
}

// BatchCreate inserts entities in dialect-sized chunks, returning the
// total number of rows inserted.
func (g *Gateway[Entity, RowID]) BatchCreate(ctx context.Context, entities []*Entity, overrides ...gateway.GatewayContext) (int, error) {
	n, err := g.inner.BatchCreate(ctx, entities, overrides...)
	return n, translateGatewayError(err)
}

// BatchUpsert runs one Upsert per entity and returns how many of them
// reported success; no multi-row upsert statement is issued.
func (g *Gateway[Entity, RowID]) BatchUpsert(ctx context.Context, entities []*Entity, overrides ...gateway.GatewayContext) (int, error) {
	n, err := g.inner.BatchUpsert(ctx, entities, overrides...)
	return n, translateGatewayError(err)
}
