package polydb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlcore/polydb"
)

func TestQueryStatsRecordAccumulates(t *testing.T) {
	t.Parallel()

	stats := polydb.NewQueryStats(polydb.MetricsOptions{PercentileWindow: 4}, nil)

	stats.Record(context.Background(), "SELECT 1", nil, 10*time.Millisecond, nil, true)
	stats.Record(context.Background(), "UPDATE t SET x=1", nil, 20*time.Millisecond, nil, false)
	stats.Record(context.Background(), "SELECT 2", nil, 30*time.Millisecond, errors.New("boom"), true)

	snap := stats.Stats()
	assert.EqualValues(t, 2, snap.TotalQueries)
	assert.EqualValues(t, 1, snap.TotalExecs)
	assert.EqualValues(t, 1, snap.Errors)
	assert.Equal(t, 60*time.Millisecond, snap.TotalDuration)
	assert.Equal(t, 20*time.Millisecond, snap.AvgDuration())
}

func TestQueryStatsSlowQueryHookFires(t *testing.T) {
	t.Parallel()

	var hookCalls int
	var lastDuration time.Duration
	hook := func(_ context.Context, _ string, _ []any, duration time.Duration) {
		hookCalls++
		lastDuration = duration
	}

	stats := polydb.NewQueryStats(polydb.MetricsOptions{
		PercentileWindow:   4,
		SlowQueryThreshold: 50 * time.Millisecond,
	}, hook)

	stats.Record(context.Background(), "fast", nil, 10*time.Millisecond, nil, true)
	stats.Record(context.Background(), "slow", nil, 100*time.Millisecond, nil, true)

	require.Equal(t, 1, hookCalls)
	assert.Equal(t, 100*time.Millisecond, lastDuration)
	assert.EqualValues(t, 1, stats.Stats().SlowQueries)
}

func TestQueryStatsPercentileOverWindow(t *testing.T) {
	t.Parallel()

	stats := polydb.NewQueryStats(polydb.MetricsOptions{PercentileWindow: 4}, nil)

	for _, d := range []time.Duration{10, 20, 30, 40} {
		stats.Record(context.Background(), "q", nil, d*time.Millisecond, nil, true)
	}

	assert.Equal(t, 10*time.Millisecond, stats.Percentile(1))
	assert.Equal(t, 40*time.Millisecond, stats.Percentile(100))
}

func TestQueryStatsPercentileEmptyWindow(t *testing.T) {
	t.Parallel()

	stats := polydb.NewQueryStats(polydb.MetricsOptions{PercentileWindow: 4}, nil)
	assert.Equal(t, time.Duration(0), stats.Percentile(50))
}

func TestQueryStatsWindowWrapsAroundCapacity(t *testing.T) {
	t.Parallel()

	stats := polydb.NewQueryStats(polydb.MetricsOptions{PercentileWindow: 2}, nil)

	stats.Record(context.Background(), "q", nil, 5*time.Millisecond, nil, true)
	stats.Record(context.Background(), "q", nil, 10*time.Millisecond, nil, true)
	stats.Record(context.Background(), "q", nil, 999*time.Millisecond, nil, true)

	// window capacity 2: the first observation (5ms) has been evicted
	assert.Equal(t, 10*time.Millisecond, stats.Percentile(1))
	assert.Equal(t, 999*time.Millisecond, stats.Percentile(100))
}
