package polydb_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlcore/polydb"
	"github.com/sqlcore/polydb/dialect"
)

func TestNewDatabaseContextConfigurationDefaults(t *testing.T) {
	t.Parallel()

	cfg := polydb.NewDatabaseContextConfiguration()

	assert.Equal(t, 5*time.Second, cfg.PoolAcquireTimeout)
	assert.Equal(t, 30*time.Second, cfg.ModeLockTimeout)
	assert.True(t, cfg.EnablePoolGovernor)
	assert.True(t, cfg.EnableWriterPreference)
	assert.Equal(t, 100*time.Millisecond, cfg.MetricsOptions.SlowQueryThreshold)
	assert.Equal(t, 256, cfg.MetricsOptions.PercentileWindow)
}

func TestValidateRejectsMissingFields(t *testing.T) {
	t.Parallel()

	t.Run("empty connection string", func(t *testing.T) {
		t.Parallel()
		cfg := polydb.NewDatabaseContextConfiguration()
		cfg.ProviderName = "sqlite"
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, polydb.IsConfigurationError(err))
	})

	t.Run("unrecognized provider", func(t *testing.T) {
		t.Parallel()
		cfg := polydb.NewDatabaseContextConfiguration()
		cfg.ConnectionString = "file::memory:"
		cfg.ProviderName = "db2"
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, polydb.IsConfigurationError(err))
	})

	t.Run("negative concurrency limits", func(t *testing.T) {
		t.Parallel()
		cfg := polydb.NewDatabaseContextConfiguration()
		cfg.ConnectionString = "file::memory:"
		cfg.ProviderName = "sqlite"
		cfg.MaxConcurrentReads = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, polydb.IsConfigurationError(err))
	})

	t.Run("valid configuration passes", func(t *testing.T) {
		t.Parallel()
		cfg := polydb.NewDatabaseContextConfiguration()
		cfg.ConnectionString = "file::memory:"
		cfg.ProviderName = "sqlite"
		assert.NoError(t, cfg.Validate())
	})
}

func TestNormalizeFillsOnlyZeroFields(t *testing.T) {
	t.Parallel()

	var cfg polydb.DatabaseContextConfiguration
	cfg.ReadWriteMode = dialect.WriteOnly
	cfg.PoolAcquireTimeout = 2 * time.Second

	out := cfg.Normalize()

	assert.Equal(t, dialect.ReadWrite, out.ReadWriteMode)
	assert.Equal(t, 2*time.Second, out.PoolAcquireTimeout)
	assert.Equal(t, 30*time.Second, out.ModeLockTimeout)
	assert.Equal(t, 100*time.Millisecond, out.MetricsOptions.SlowQueryThreshold)
	assert.Equal(t, 256, out.MetricsOptions.PercentileWindow)

	// receiver unmodified
	assert.Equal(t, time.Duration(0), cfg.ModeLockTimeout)
}

func TestNormalizeRoundsPercentileWindowUpToPowerOfTwo(t *testing.T) {
	t.Parallel()

	var cfg polydb.DatabaseContextConfiguration
	cfg.MetricsOptions.PercentileWindow = 100

	out := cfg.Normalize()

	assert.Equal(t, 128, out.MetricsOptions.PercentileWindow)
}

func TestParseSupportedDatabase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected dialect.SupportedDatabase
	}{
		{"postgres", dialect.PostgreSql},
		{"postgresql", dialect.PostgreSql},
		{"mysql", dialect.MySql},
		{"mariadb", dialect.MariaDb},
		{"sqlite", dialect.Sqlite},
		{"sqlite3", dialect.Sqlite},
		{"sqlserver", dialect.SqlServer},
		{"mssql", dialect.SqlServer},
		{"oracle", dialect.Oracle},
		{"firebird", dialect.Firebird},
		{"cockroachdb", dialect.CockroachDb},
		{"cockroach", dialect.CockroachDb},
		{"duckdb", dialect.DuckDb},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := polydb.ParseSupportedDatabase(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	t.Run("unrecognized", func(t *testing.T) {
		t.Parallel()
		_, err := polydb.ParseSupportedDatabase("db2")
		assert.Error(t, err)
	})
}

func TestLoadDatabaseContextConfiguration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "polydb.yaml")
	doc := "connection_string: \"file::memory:\"\nprovider_name: sqlite\nmax_concurrent_reads: 4\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := polydb.LoadDatabaseContextConfiguration(path)
	require.NoError(t, err)

	assert.Equal(t, "file::memory:", cfg.ConnectionString)
	assert.Equal(t, "sqlite", cfg.ProviderName)
	assert.Equal(t, int64(4), cfg.MaxConcurrentReads)
	// defaults survive an incomplete document
	assert.True(t, cfg.EnablePoolGovernor)
	assert.Equal(t, 30*time.Second, cfg.ModeLockTimeout)
}

func TestLoadDatabaseContextConfigurationMissingFile(t *testing.T) {
	t.Parallel()

	_, err := polydb.LoadDatabaseContextConfiguration(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
