// Package dialect encapsulates every provider-specific decision so the
// rest of polydb can stay uniform across backends.
//
// A Dialect is a detectable, versioned description of a backend's SQL
// surface: parameter markers, identifier quoting, identity/returning
// strategy, conflict/merge semantics, isolation level support, and
// stored-procedure call shape. Concrete dialects self-register with
// [Register] from an init() function, mirroring the way database/sql
// drivers register themselves with sql.Register:
//
//	import _ "github.com/sqlcore/polydb/dialect/postgres"
//
//	d, err := dialect.Open(dialect.PostgreSql)
//
// Only some boolean capability flags are read outside the capability
// tables: SupportsNamedParameters (parameter binding), SupportsSavepoints
// (transactions), SupportsRCSI (PostgreSQL isolation) and, for the
// fallback dialect only, the upsert-shape flags. The remaining flags
// (window functions, CTEs, JSON, arrays, XML, temporal tables, MERGE
// with RETURNING, unique detection, statement preparation) describe the
// backend, and no code path queries them. Unknown capabilities default to
// disabled so that a fallback dialect never emits a statement its backend
// cannot parse.
package dialect

import "fmt"

// SupportedDatabase is the closed enumeration of backends polydb can
// target. Unknown is the zero value, so an unset field fails closed into
// the conservative fallback dialect rather than silently assuming a
// capable backend.
type SupportedDatabase int

// Recognized backends.
const (
	Unknown SupportedDatabase = iota
	SqlServer
	PostgreSql
	Oracle
	MySql
	MariaDb
	Sqlite
	Firebird
	CockroachDb
	DuckDb
)

var dbNames = map[SupportedDatabase]string{
	Unknown:     "unknown",
	SqlServer:   "sqlserver",
	PostgreSql:  "postgres",
	Oracle:      "oracle",
	MySql:       "mysql",
	MariaDb:     "mariadb",
	Sqlite:      "sqlite",
	Firebird:    "firebird",
	CockroachDb: "cockroachdb",
	DuckDb:      "duckdb",
}

// String implements fmt.Stringer.
func (d SupportedDatabase) String() string {
	if name, ok := dbNames[d]; ok {
		return name
	}
	return fmt.Sprintf("SupportedDatabase(%d)", int(d))
}

// ExecutionType drives connection-strategy routing: Read acquires a
// pooled/reader connection, Write acquires (or serializes on) the writer.
type ExecutionType int

// Recognized execution types.
const (
	Read ExecutionType = iota
	Write
)

func (e ExecutionType) String() string {
	if e == Write {
		return "write"
	}
	return "read"
}

// ReadWriteMode constrains what a DatabaseContext is allowed to execute.
// WriteOnly is coerced to ReadWrite at configuration-normalization time,
// because writers must also read to verify state.
type ReadWriteMode int

// Recognized read/write modes.
const (
	ReadWrite ReadWriteMode = iota
	ReadOnly
	WriteOnly
)

// Normalize coerces WriteOnly to ReadWrite, per spec.md §3.
func (m ReadWriteMode) Normalize() ReadWriteMode {
	if m == WriteOnly {
		return ReadWrite
	}
	return m
}

// ProcWrappingStyle is the call syntax a dialect requires to invoke a
// stored procedure.
type ProcWrappingStyle int

// Recognized procedure-wrapping styles.
const (
	ProcNone ProcWrappingStyle = iota
	ProcCall
	ProcExec
	ProcExecuteProcedure
	ProcPostgreSqlCall
	ProcOracleBlock
)

// GeneratedKeyPlan is the ordered strategy list for fetching a
// server-assigned id after INSERT, most preferred first within a dialect.
type GeneratedKeyPlan int

// Recognized generated-key plans.
const (
	KeyPlanNone GeneratedKeyPlan = iota
	KeyPlanReturning
	KeyPlanOutputInserted
	KeyPlanSessionScopedFunction
	KeyPlanPrefetchSequence
	KeyPlanCorrelationToken
	KeyPlanNaturalKeyLookup
)

// UpsertShape is the SQL shape a dialect uses to implement Upsert.
type UpsertShape int

// Recognized upsert shapes.
const (
	UpsertPerRowFallback UpsertShape = iota
	UpsertOnConflictDoUpdate
	UpsertOnDuplicateKeyUpdate
	UpsertMergeStatement
)

// IsolationProfile is a portable request for a consistency/performance
// tradeoff; it is resolved to a concrete IsolationLevel per dialect.
type IsolationProfile int

// Recognized isolation profiles.
const (
	SafeNonBlockingReads IsolationProfile = iota
	StrictConsistency
	FastWithRisks
)

// IsolationLevel mirrors database/sql.IsolationLevel's vocabulary without
// importing database/sql into this leaf package.
type IsolationLevel int

// Recognized isolation levels.
const (
	LevelDefault IsolationLevel = iota
	LevelReadUncommitted
	LevelReadCommitted
	LevelRepeatableRead
	LevelSnapshot
	LevelSerializable
)

func (l IsolationLevel) String() string {
	switch l {
	case LevelReadUncommitted:
		return "ReadUncommitted"
	case LevelReadCommitted:
		return "ReadCommitted"
	case LevelRepeatableRead:
		return "RepeatableRead"
	case LevelSnapshot:
		return "Snapshot"
	case LevelSerializable:
		return "Serializable"
	default:
		return "Default"
	}
}

// DbMode selects a connection lifecycle strategy. Best resolves to one of
// the other four at DatabaseContext construction time and is never itself
// a live strategy.
type DbMode int

// Recognized connection lifecycle modes.
const (
	Best DbMode = iota
	Standard
	KeepAlive
	SingleWriter
	SingleConnection
)

func (m DbMode) String() string {
	switch m {
	case Standard:
		return "Standard"
	case KeepAlive:
		return "KeepAlive"
	case SingleWriter:
		return "SingleWriter"
	case SingleConnection:
		return "SingleConnection"
	default:
		return "Best"
	}
}
