// Package gateway implements TableGateway, the generic CRUD synthesis
// engine described in spec.md §4.7: given a schema.TableInfo, it builds
// and executes the Create/RetrieveOne/Retrieve/Update/Delete/Upsert/
// BatchCreate/BatchUpsert statements for one entity type, adapting its SQL
// shape to whatever dialect.Dialect it is handed.
package gateway

import (
	"context"
	"reflect"
	"time"

	"github.com/sqlcore/polydb/dialect"
	sqlcontainer "github.com/sqlcore/polydb/dialect/sql"
	"github.com/sqlcore/polydb/dialect/sql/pool"
	"github.com/sqlcore/polydb/schema"
)

// GatewayContext is the minimal view of a database connection scope a
// TableGateway needs to build a statement against: a dialect to shape SQL
// for, and a way to obtain a container bound to whatever connection that
// scope owns. polydb.DatabaseContext (a fresh/pooled connection per
// statement) and dialect/sql/txn.TransactionContext (a single pinned
// connection for every statement) both satisfy it, realizing the "optional
// IDatabaseContext override" surface from spec.md §6.
type GatewayContext interface {
	Dialect() dialect.Dialect
	Container(paramPool *pool.ParameterPool) *sqlcontainer.SqlContainer
}

// strategyContext adapts a bare pool.Strategy (used when a TableGateway is
// built without an owning DatabaseContext, e.g. in tests) into a
// GatewayContext by acquiring a fresh connection per container.
type strategyContext struct {
	dlct     dialect.Dialect
	strategy pool.Strategy
}

// NewStrategyContext returns a GatewayContext that acquires a fresh (or
// writer/shared, per strategy) connection for every container it builds.
func NewStrategyContext(dlct dialect.Dialect, strategy pool.Strategy) GatewayContext {
	return strategyContext{dlct: dlct, strategy: strategy}
}

func (s strategyContext) Dialect() dialect.Dialect { return s.dlct }

func (s strategyContext) Container(paramPool *pool.ParameterPool) *sqlcontainer.SqlContainer {
	return sqlcontainer.NewContainer(s.dlct, sqlcontainer.NewStrategySource(s.strategy), paramPool)
}

// AuditValues carries the caller identity and wall-clock instant a
// TableGateway stamps into created_*/updated_* columns (spec.md §6
// "IAuditValues").
type AuditValues struct {
	UserID string
	UTCNow time.Time
}

// AuditValueResolver supplies AuditValues for the current operation; the
// owning DatabaseContext typically resolves UserID from an ambient
// principal and UTCNow from time.Now().UTC().
type AuditValueResolver interface {
	Resolve(ctx context.Context) (AuditValues, error)
}

// staticAuditResolver is a fixed-value AuditValueResolver, useful for
// gateways with no caller-identity concept (system/background jobs).
type staticAuditResolver struct{ values AuditValues }

// NewStaticAuditResolver returns an AuditValueResolver that always answers
// values, regardless of ctx.
func NewStaticAuditResolver(values AuditValues) AuditValueResolver {
	return staticAuditResolver{values: values}
}

func (r staticAuditResolver) Resolve(context.Context) (AuditValues, error) { return r.values, nil }

// TableGateway synthesizes CRUD statements for one entity type over its
// schema.TableInfo (spec.md §4.7). Not safe for concurrent use from
// multiple goroutines that mutate the same *Entity value, but safe to
// share across goroutines operating on distinct values.
type TableGateway[Entity any, RowID comparable] struct {
	info            *schema.TableInfo
	dfltCtx         GatewayContext
	audit           AuditValueResolver
	params          *pool.ParameterPool
	keyPlanOverride *dialect.GeneratedKeyPlan
}

// New builds a TableGateway for Entity, registering it with registry if
// not already present.
func New[Entity any, RowID comparable](registry *schema.Registry, dfltCtx GatewayContext, audit AuditValueResolver) (*TableGateway[Entity, RowID], error) {
	info, err := schema.Register[Entity](registry)
	if err != nil {
		return nil, err
	}
	return &TableGateway[Entity, RowID]{
		info:    info,
		dfltCtx: dfltCtx,
		audit:   audit,
		params:  pool.NewParameterPool(),
	}, nil
}

// TableInfo returns the schema metadata this gateway was built from.
func (g *TableGateway[Entity, RowID]) TableInfo() *schema.TableInfo { return g.info }

// resolveCtx returns the first override, or the gateway's default.
func (g *TableGateway[Entity, RowID]) resolveCtx(overrides []GatewayContext) GatewayContext {
	if len(overrides) > 0 && overrides[0] != nil {
		return overrides[0]
	}
	return g.dfltCtx
}

func (g *TableGateway[Entity, RowID]) container(gctx GatewayContext) *sqlcontainer.SqlContainer {
	return gctx.Container(g.params)
}

// entityValue returns an addressable reflect.Value for *entity's struct.
func entityValue(entity *Entity) reflect.Value {
	return reflect.ValueOf(entity).Elem()
}

// fieldFor returns the settable reflect.Value of entity's column field.
func fieldFor(v reflect.Value, col *schema.ColumnInfo) reflect.Value {
	return v.Field(col.FieldIndex)
}
