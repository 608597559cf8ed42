package pool

import (
	"strings"

	"github.com/sqlcore/polydb/dialect"
)

// ResolveModeInput carries the facts ResolveMode needs: the explicitly
// requested mode (dialect.Best if the caller expressed no preference),
// the detected backend, and the connection string used to reach it.
type ResolveModeInput struct {
	Requested       dialect.DbMode
	Product         dialect.SupportedDatabase
	ConnectionString string
}

// ResolveOutcome records what ResolveMode decided and why, for the
// ConnectionModeCoerced/ConnectionModeMismatch logging spec.md §4.2
// requires.
type ResolveOutcome struct {
	Mode   dialect.DbMode
	Event  string // "" when the explicit mode was honored unchanged
	Detail string
}

func isLocalDB(connectionString string) bool {
	return strings.Contains(strings.ToLower(connectionString), "(localdb)")
}

func isMemorySqlite(connectionString string) bool {
	s := strings.ToLower(connectionString)
	return strings.Contains(s, ":memory:") || s == "" || s == "file::memory:"
}

// bestModeFor derives the natural mode for a product/connection-string
// pair, per spec.md §4.2's Best resolution table.
func bestModeFor(product dialect.SupportedDatabase, connectionString string) dialect.DbMode {
	switch product {
	case dialect.Sqlite:
		if isMemorySqlite(connectionString) {
			return dialect.SingleConnection
		}
		return dialect.SingleWriter
	case dialect.DuckDb:
		return dialect.SingleWriter
	case dialect.SqlServer:
		if isLocalDB(connectionString) {
			return dialect.KeepAlive
		}
		return dialect.Standard
	default:
		return dialect.Standard
	}
}

// ResolveMode implements spec.md §4.2's Best resolution: when the caller
// requested Best, the natural mode for the detected product/DSN is chosen
// and reported via Event as ConnectionModeCoerced. When the caller
// requested a concrete mode that conflicts with
// the product's natural mode, the explicit mode is still honored (the
// caller's override wins) but the mismatch is reported via Event so the
// DatabaseContext can log ConnectionModeMismatch.
func ResolveMode(in ResolveModeInput) ResolveOutcome {
	natural := bestModeFor(in.Product, in.ConnectionString)
	if in.Requested == dialect.Best {
		return ResolveOutcome{Mode: natural, Event: "ConnectionModeCoerced", Detail: natural.String()}
	}
	if in.Requested != natural {
		return ResolveOutcome{Mode: in.Requested, Event: "ConnectionModeMismatch", Detail: natural.String()}
	}
	return ResolveOutcome{Mode: in.Requested}
}
