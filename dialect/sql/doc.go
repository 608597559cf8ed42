// Package sql implements SqlContainer, the statement builder/executor
// described in spec.md §4.5: a growable SQL text buffer paired with an
// ordered, dialect-bound parameter set. A container acquires connections
// through a dialect/sql/pool.Strategy (or a pinned connection supplied by
// dialect/sql/txn), binds parameters in ordinal order, and exposes
// execute_non_query / execute_scalar / execute_reader entry points.
package sql
