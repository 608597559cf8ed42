package dialect

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// probe is a per-product detection query plus a version parser.
// DetectProduct tries each candidate's probe query against conn and
// accepts the first one whose answer scans without error; the answer is
// parsed for a version but not checked against the product, so detection
// never depends on error-message sniffing.
type probe struct {
	product SupportedDatabase
	query   string
	parse   func(raw string) (version string, tier int)
}

var probes = []probe{
	{
		product: PostgreSql,
		query:   "SELECT version()",
		parse:   parsePostgresVersion,
	},
	{
		product: SqlServer,
		query:   "SELECT @@VERSION",
		parse:   parseSQLServerVersion,
	},
	{
		product: MySql,
		query:   "SELECT VERSION()",
		parse:   parseMySQLVersion,
	},
	{
		product: Sqlite,
		query:   "SELECT sqlite_version()",
		parse:   func(raw string) (string, int) { return raw, 0 },
	},
	{
		product: Oracle,
		query:   "SELECT * FROM v$version WHERE banner LIKE 'Oracle%'",
		parse:   parseOracleVersion,
	},
	{
		product: Firebird,
		query:   "SELECT rdb$get_context('SYSTEM', 'ENGINE_VERSION') FROM rdb$database",
		parse:   func(raw string) (string, int) { return raw, 0 },
	},
	{
		product: DuckDb,
		query:   "SELECT version()",
		parse:   func(raw string) (string, int) { return raw, 0 },
	},
}

var postgresVersionRe = regexp.MustCompile(`PostgreSQL (\d+(\.\d+)?)`)
var cockroachVersionRe = regexp.MustCompile(`CockroachDB CCL v(\d+(\.\d+)*)`)

func parsePostgresVersion(raw string) (string, int) {
	if cockroachVersionRe.MatchString(raw) {
		return raw, 0
	}
	if m := postgresVersionRe.FindStringSubmatch(raw); m != nil {
		return m[1], featureTierFromMajor(m[1])
	}
	return raw, 0
}

func parseSQLServerVersion(raw string) (string, int) {
	return strings.TrimSpace(strings.SplitN(raw, "\n", 2)[0]), 0
}

func parseMySQLVersion(raw string) (string, int) {
	return raw, featureTierFromMajor(raw)
}

func parseOracleVersion(raw string) (string, int) {
	return raw, 0
}

func featureTierFromMajor(version string) int {
	major := strings.SplitN(version, ".", 2)[0]
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return n
}

// IsCockroach reports whether a PostgreSQL-wire-protocol probe result
// actually identifies CockroachDB rather than PostgreSQL itself;
// DetectProduct uses it to tell CockroachDB from PostgreSQL, since both
// answer "SELECT version()".
func IsCockroach(versionString string) bool {
	return cockroachVersionRe.MatchString(versionString)
}

// DetectProduct runs each candidate probe against conn in turn and
// returns the ProductInfo for the first one that answers without error.
// The answer is not checked against the probe's product: a backend that
// answers another product's probe query is reported as that product.
// When every candidate has a probe and every probe's query fails,
// DetectProduct returns a *DetectionFailed wrapping the last error. It
// returns ProductInfo{Product: Unknown, IsFallback: true} and no error
// only when at least one candidate has no probe (CockroachDb, MariaDb)
// and no probe that was tried answered.
func DetectProduct(ctx context.Context, conn Conn, candidates ...SupportedDatabase) (ProductInfo, error) {
	set := candidateSet(candidates)
	var lastErr error
	tried := 0
	for _, p := range probes {
		if !set[p.product] {
			continue
		}
		tried++
		var raw string
		row := conn.QueryRowContext(ctx, p.query)
		if err := row.Scan(&raw); err != nil {
			lastErr = err
			continue
		}
		if p.product == PostgreSql && IsCockroach(raw) {
			version, tier := parsePostgresVersion(raw)
			return ProductInfo{Product: CockroachDb, Version: version, FeatureTier: tier}, nil
		}
		version, tier := p.parse(raw)
		return ProductInfo{Product: p.product, Version: version, FeatureTier: tier}, nil
	}
	if tried > 0 && tried == len(set) && lastErr != nil {
		// Every candidate probe's query itself failed to execute: this is
		// a genuine probe failure, not merely an unrecognized backend.
		return ProductInfo{}, &DetectionFailed{Err: lastErr}
	}
	return ProductInfo{Product: Unknown, IsFallback: true}, nil
}

func candidateSet(candidates []SupportedDatabase) map[SupportedDatabase]bool {
	if len(candidates) == 0 {
		return map[SupportedDatabase]bool{
			PostgreSql: true, SqlServer: true, MySql: true, Sqlite: true,
			Oracle: true, Firebird: true, DuckDb: true,
		}
	}
	set := make(map[SupportedDatabase]bool, len(candidates))
	for _, c := range candidates {
		set[c] = true
	}
	return set
}

// DetectionFailed indicates the detection probe itself threw (every
// candidate query failed to execute); kept dialect-local and translated
// to polydb.DialectDetectionError at the DatabaseContext boundary.
type DetectionFailed struct{ Err error }

func (e *DetectionFailed) Error() string { return "dialect: detection probe failed: " + e.Err.Error() }
func (e *DetectionFailed) Unwrap() error { return e.Err }
