package dialect

import "context"

// Conn is the minimal probe surface DetectProduct needs: a single-row
// query used to fingerprint the backend. database/sql's *DB, *Tx and
// *Conn do not satisfy it directly, because their QueryRowContext returns
// the concrete *sql.Row; callers pass them through a small adapter.
type Conn interface {
	QueryRowContext(ctx context.Context, query string, args ...any) Row
}

// Row is satisfied by *sql.Row; declared narrowly here so this package
// never imports database/sql.
type Row interface {
	Scan(dest ...any) error
}

// ProductInfo is the result of product detection: what backend, which
// version, and which capability era (feature tier) it speaks.
type ProductInfo struct {
	Product    SupportedDatabase
	Version    string
	FeatureTier int
	IsFallback bool
}

// Dialect encapsulates every provider-specific decision needed to emit
// correct SQL and manage a connection's session state for one backend.
// See spec.md §4.1.
type Dialect interface {
	// Product returns the backend this dialect targets.
	Product() SupportedDatabase

	// Capability returns the capability table backing this dialect.
	Capability() Capability

	// IsFallback reports whether this dialect is the conservative,
	// capability-disabled fallback returned when detection could not
	// positively identify a backend.
	IsFallback() bool

	// WrapIdentifier quotes name per the dialect's quoting rules.
	WrapIdentifier(name string) string

	// ParameterMarkerAt returns the marker text for a parameter at the
	// given ordinal with the given (already-resolved) name.
	ParameterMarkerAt(ordinal int, name string) string

	// SessionPreamble returns the one-time SET-statement batch to run on
	// first connection open. May be empty.
	SessionPreamble(readOnly bool) string

	// GeneratedKeyPlan returns the preferred strategy for retrieving a
	// server-assigned id after INSERT.
	GeneratedKeyPlan() GeneratedKeyPlan

	// UpsertShape returns the SQL shape this dialect uses for Upsert.
	UpsertShape() UpsertShape

	// WrapProcedureCall renders a stored-procedure invocation in this
	// dialect's calling convention.
	WrapProcedureCall(name string, args []string, execType ExecutionType) string

	// IsUniqueViolation classifies a driver error as a unique-constraint
	// violation.
	IsUniqueViolation(err error) bool

	// ResolveIsolation maps a portable IsolationProfile to a concrete
	// IsolationLevel, or fails if the dialect has no mapping for it.
	ResolveIsolation(profile IsolationProfile) (IsolationLevel, error)
}

// baseDialect provides capability-table-driven implementations of the
// Dialect methods that capability data can express. Only the fallback
// dialect embeds it; the concrete dialects in the sub-packages implement
// every Dialect method themselves.
type baseDialect struct {
	cap        Capability
	isFallback bool
}

func (b baseDialect) Product() SupportedDatabase { return b.cap.Product }
func (b baseDialect) Capability() Capability     { return b.cap }
func (b baseDialect) IsFallback() bool           { return b.isFallback }

func (b baseDialect) WrapIdentifier(name string) string {
	return b.cap.WrapIdentifier(name)
}

func (b baseDialect) ParameterMarkerAt(ordinal int, name string) string {
	return b.cap.ParameterMarkerAt(ordinal, name)
}

func (b baseDialect) GeneratedKeyPlan() GeneratedKeyPlan { return resolveKeyPlan(b.cap) }

func (b baseDialect) UpsertShape() UpsertShape {
	switch {
	case b.cap.SupportsInsertOnConflict:
		return UpsertOnConflictDoUpdate
	case b.cap.SupportsOnDuplicateKey:
		return UpsertOnDuplicateKeyUpdate
	case b.cap.SupportsMerge:
		return UpsertMergeStatement
	default:
		return UpsertPerRowFallback
	}
}

func (b baseDialect) ResolveIsolation(profile IsolationProfile) (IsolationLevel, error) {
	level, ok := b.cap.ProfileMap[profile]
	if !ok {
		return LevelDefault, &unsupportedIsolationProfile{product: b.cap.Product, profile: profile}
	}
	if profile == SafeNonBlockingReads && b.cap.Product == PostgreSql && !b.cap.SupportsRCSI {
		return LevelDefault, &unsupportedIsolationProfile{
			product: b.cap.Product,
			profile: profile,
			reason:  "RcsiNotEnabled",
		}
	}
	return level, nil
}

// IsolationProfileError is satisfied by the error ResolveIsolation returns
// when a profile has no mapping (or is explicitly rejected, e.g. Postgres
// SafeNonBlockingReads without RCSI). Callers at the DatabaseContext
// boundary type-assert to this interface to build a polydb.UnsupportedIsolation.
type IsolationProfileError interface {
	error
	DbProduct() SupportedDatabase
	Reason() string
}

// unsupportedIsolationProfile is a lightweight internal error kept
// dialect-package-local; callers translate it via polydb.UnsupportedIsolation
// at the DatabaseContext boundary, keeping this leaf package free of a
// dependency on the root error-taxonomy package.
type unsupportedIsolationProfile struct {
	product SupportedDatabase
	profile IsolationProfile
	reason  string
}

func (e *unsupportedIsolationProfile) Error() string {
	if e.reason != "" {
		return e.product.String() + ": unsupported isolation profile: " + e.reason
	}
	return e.product.String() + ": unsupported isolation profile"
}

// DbProduct returns the backend the error was raised for.
func (e *unsupportedIsolationProfile) DbProduct() SupportedDatabase { return e.product }

// Reason returns the machine-checkable reason tag, if any (e.g. "RcsiNotEnabled").
func (e *unsupportedIsolationProfile) Reason() string { return e.reason }

// resolveKeyPlan picks the GeneratedKeyPlan from the capability's
// Product, per spec.md §4.1.
func resolveKeyPlan(cap Capability) GeneratedKeyPlan {
	switch cap.Product {
	case SqlServer:
		return KeyPlanOutputInserted
	case PostgreSql, Sqlite, Firebird, DuckDb, CockroachDb:
		return KeyPlanReturning
	case Oracle:
		return KeyPlanPrefetchSequence
	case MySql, MariaDb:
		return KeyPlanSessionScopedFunction
	default:
		return KeyPlanNone
	}
}
