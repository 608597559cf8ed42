package polydb

import (
	"fmt"
	"os"
	"time"

	"github.com/sqlcore/polydb/dialect"
	"gopkg.in/yaml.v3"
)

// DatabaseContextConfiguration is the bindable configuration surface for
// [Open] (spec.md §6 "Configuration surface"), in the style of the
// icinga-go-library Options struct: plain fields, `yaml` tags, and a
// Validate method that rejects out-of-range values before anything tries
// to open a connection.
type DatabaseContextConfiguration struct {
	// ConnectionString is the driver-specific DSN. Required.
	ConnectionString string `yaml:"connection_string"`

	// ProviderName selects the registered dialect/driver pair: one of
	// "postgres", "mysql", "mariadb", "sqlite", "sqlserver", "oracle",
	// "firebird", "cockroachdb", "duckdb".
	ProviderName string `yaml:"provider_name"`

	// ReadOnlyConnectionString, when set, routes Read-declared executions
	// to a second *sql.DB opened against this DSN instead of
	// ConnectionString (e.g. a read replica).
	ReadOnlyConnectionString string `yaml:"read_only_connection_string"`

	// DbMode selects the connection lifecycle strategy. Best (the zero
	// value) resolves automatically from the detected product and DSN.
	DbMode dialect.DbMode `yaml:"db_mode"`

	// ReadWriteMode constrains what this context may execute. WriteOnly is
	// coerced to ReadWrite by Normalize.
	ReadWriteMode dialect.ReadWriteMode `yaml:"read_write_mode"`

	ForceManualPrepare bool `yaml:"force_manual_prepare"`
	DisablePrepare     bool `yaml:"disable_prepare"`

	EnableMetrics  bool           `yaml:"enable_metrics"`
	MetricsOptions MetricsOptions `yaml:"metrics_options"`

	// MaxConcurrentReads/MaxConcurrentWrites bound the read/write governor;
	// zero means unbounded.
	MaxConcurrentReads  int64 `yaml:"max_concurrent_reads"`
	MaxConcurrentWrites int64 `yaml:"max_concurrent_writes"`

	// PoolAcquireTimeout bounds governor permit acquisition; default 5s.
	PoolAcquireTimeout time.Duration `yaml:"pool_acquire_timeout"`
	// ModeLockTimeout bounds the pinned-connection acquisition in
	// BeginTransaction, including any SingleWriter/SingleConnection lock
	// wait it involves; default 30s. Ordinary container executions wait for
	// the mode lock without a bound. Normalize replaces zero with the 30s
	// default, so no value makes BeginTransaction wait forever.
	ModeLockTimeout time.Duration `yaml:"mode_lock_timeout"`

	EnablePoolGovernor     bool `yaml:"enable_pool_governor"`
	EnableWriterPreference bool `yaml:"enable_writer_preference"`

	// ApplicationName is not forwarded to the driver: Open passes
	// ConnectionString unchanged, and no code path reads this field.
	ApplicationName string `yaml:"application_name"`
}

// MetricsOptions configures the QueryStats collector enabled by
// EnableMetrics.
type MetricsOptions struct {
	// SlowQueryThreshold is the exec/query duration above which a call is
	// counted as slow and (if set) passed to a logging hook. Default 100ms.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`

	// PercentileWindow is the capacity of the ring buffer used to compute
	// latency percentiles; rounded up to the next power of two. Default 256.
	PercentileWindow int `yaml:"percentile_window"`
}

const (
	defaultPoolAcquireTimeout = 5 * time.Second
	defaultModeLockTimeout    = 30 * time.Second
	defaultSlowQueryThreshold = 100 * time.Millisecond
	defaultPercentileWindow   = 256
)

// Validate checks constraints in the supplied configuration, returning a
// *ConfigurationError describing the first violation found. Call after
// Normalize, or before — Validate does not depend on normalization having
// run.
func (c *DatabaseContextConfiguration) Validate() error {
	if c.ConnectionString == "" {
		return NewConfigurationError("connection_string", "must not be empty")
	}
	if c.ProviderName == "" {
		return NewConfigurationError("provider_name", "must not be empty")
	}
	if _, err := ParseSupportedDatabase(c.ProviderName); err != nil {
		return NewConfigurationError("provider_name", err.Error())
	}
	if c.MaxConcurrentReads < 0 {
		return NewConfigurationError("max_concurrent_reads", "must not be negative")
	}
	if c.MaxConcurrentWrites < 0 {
		return NewConfigurationError("max_concurrent_writes", "must not be negative")
	}
	if c.PoolAcquireTimeout < 0 {
		return NewConfigurationError("pool_acquire_timeout", "must not be negative")
	}
	if c.ModeLockTimeout < 0 {
		return NewConfigurationError("mode_lock_timeout", "must not be negative")
	}
	if c.MetricsOptions.PercentileWindow < 0 {
		return NewConfigurationError("metrics_options.percentile_window", "must not be negative")
	}
	return nil
}

// NewDatabaseContextConfiguration returns a configuration with every
// documented default applied (pool_acquire_timeout=5s,
// mode_lock_timeout=30s, enable_pool_governor=true,
// enable_writer_preference=true), ready for ConnectionString/ProviderName
// to be filled in. A config loaded from YAML without going through this
// constructor can still call Normalize, which fills in the zero-valued
// duration/window fields but — since a bare bool can't distinguish
// "omitted" from "explicitly false" — leaves EnablePoolGovernor/
// EnableWriterPreference as loaded.
func NewDatabaseContextConfiguration() DatabaseContextConfiguration {
	return DatabaseContextConfiguration{
		PoolAcquireTimeout:     defaultPoolAcquireTimeout,
		ModeLockTimeout:        defaultModeLockTimeout,
		EnablePoolGovernor:     true,
		EnableWriterPreference: true,
		MetricsOptions: MetricsOptions{
			SlowQueryThreshold: defaultSlowQueryThreshold,
			PercentileWindow:   defaultPercentileWindow,
		},
	}
}

// Normalize coerces WriteOnly to ReadWrite and fills in zero-valued
// duration/window fields with their documented defaults, returning a copy.
// The receiver is left unmodified.
func (c DatabaseContextConfiguration) Normalize() DatabaseContextConfiguration {
	out := c
	out.ReadWriteMode = c.ReadWriteMode.Normalize()
	if out.PoolAcquireTimeout == 0 {
		out.PoolAcquireTimeout = defaultPoolAcquireTimeout
	}
	if out.ModeLockTimeout == 0 {
		out.ModeLockTimeout = defaultModeLockTimeout
	}
	if out.MetricsOptions.SlowQueryThreshold == 0 {
		out.MetricsOptions.SlowQueryThreshold = defaultSlowQueryThreshold
	}
	if out.MetricsOptions.PercentileWindow == 0 {
		out.MetricsOptions.PercentileWindow = defaultPercentileWindow
	}
	out.MetricsOptions.PercentileWindow = nextPowerOfTwo(out.MetricsOptions.PercentileWindow)
	return out
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// LoadDatabaseContextConfiguration reads a YAML document at path into a
// DatabaseContextConfiguration seeded with NewDatabaseContextConfiguration's
// defaults, then normalizes it. Fields absent from the document keep
// their default value.
func LoadDatabaseContextConfiguration(path string) (DatabaseContextConfiguration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DatabaseContextConfiguration{}, fmt.Errorf("polydb: read configuration %s: %w", path, err)
	}
	cfg := NewDatabaseContextConfiguration()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return DatabaseContextConfiguration{}, fmt.Errorf("polydb: parse configuration %s: %w", path, err)
	}
	return cfg.Normalize(), nil
}

// ParseSupportedDatabase maps a provider_name string onto its
// dialect.SupportedDatabase constant.
func ParseSupportedDatabase(name string) (dialect.SupportedDatabase, error) {
	switch name {
	case "postgres", "postgresql":
		return dialect.PostgreSql, nil
	case "mysql":
		return dialect.MySql, nil
	case "mariadb":
		return dialect.MariaDb, nil
	case "sqlite", "sqlite3":
		return dialect.Sqlite, nil
	case "sqlserver", "mssql":
		return dialect.SqlServer, nil
	case "oracle":
		return dialect.Oracle, nil
	case "firebird":
		return dialect.Firebird, nil
	case "cockroachdb", "cockroach":
		return dialect.CockroachDb, nil
	case "duckdb":
		return dialect.DuckDb, nil
	default:
		return dialect.Unknown, fmt.Errorf("unrecognized provider_name %q", name)
	}
}
