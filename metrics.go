package polydb

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sqlcore/polydb/dialect"
)

// SlowQueryHook is called when an execution exceeds
// MetricsOptions.SlowQueryThreshold, mirroring the teacher's
// dialect/sql.SlowQueryHook.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// LogSlowQueries is a SlowQueryHook that logs via log/slog, matching the
// teacher's WithSlowQueryLog default.
func LogSlowQueries(_ context.Context, query string, args []any, duration time.Duration) {
	slog.Warn("slow query detected", "duration", duration, "query", query, "args", args)
}

// QueryStats accumulates execution counters and a bounded percentile
// window for one DatabaseContext, enabled by
// DatabaseContextConfiguration.EnableMetrics (spec.md §6 enable_metrics).
// Grounded on the teacher's dialect/sql.QueryStats, extended with the
// power-of-two ring buffer metrics_options.percentile_window calls for.
type QueryStats struct {
	TotalQueries  atomic.Int64
	TotalExecs    atomic.Int64
	TotalDuration atomic.Int64 // nanoseconds
	SlowQueries   atomic.Int64
	Errors        atomic.Int64

	threshold time.Duration
	hook      SlowQueryHook

	mu     sync.Mutex
	window []time.Duration
	cursor int
	filled bool
}

// NewQueryStats returns a QueryStats sized per opts.
func NewQueryStats(opts MetricsOptions, hook SlowQueryHook) *QueryStats {
	size := nextPowerOfTwo(opts.PercentileWindow)
	if size < 1 {
		size = defaultPercentileWindow
	}
	return &QueryStats{
		threshold: opts.SlowQueryThreshold,
		hook:      hook,
		window:    make([]time.Duration, size),
	}
}

// Record accumulates one exec/query observation. isQuery distinguishes
// SELECT-shaped calls from exec-shaped ones for TotalQueries/TotalExecs.
func (s *QueryStats) Record(ctx context.Context, query string, args []any, duration time.Duration, err error, isQuery bool) {
	if isQuery {
		s.TotalQueries.Add(1)
	} else {
		s.TotalExecs.Add(1)
	}
	s.TotalDuration.Add(int64(duration))
	if err != nil {
		s.Errors.Add(1)
	}

	s.mu.Lock()
	s.window[s.cursor] = duration
	s.cursor++
	if s.cursor == len(s.window) {
		s.cursor = 0
		s.filled = true
	}
	s.mu.Unlock()

	if s.threshold > 0 && duration > s.threshold {
		s.SlowQueries.Add(1)
		if s.hook != nil {
			s.hook(ctx, query, args, duration)
		}
	}
}

// recordExecution adapts a sqlcontainer.RecordFunc call to Record: the
// SqlContainer boundary doesn't carry bound parameter values, so the
// slow-query hook sees a nil args slice.
func (s *QueryStats) recordExecution(ctx context.Context, sqlText string, _ dialect.ExecutionType, duration time.Duration, err error, isQuery bool) {
	s.Record(ctx, sqlText, nil, duration, err, isQuery)
}

// Snapshot is a point-in-time view of QueryStats' counters.
type Snapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgDuration returns the mean exec/query duration across the snapshot.
func (s Snapshot) AvgDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// Stats returns a snapshot of the accumulated counters.
func (s *QueryStats) Stats() Snapshot {
	return Snapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Percentile returns the p-th percentile (0 < p <= 100) latency over the
// current window. Returns 0 if no observations have been recorded yet.
func (s *QueryStats) Percentile(p float64) time.Duration {
	s.mu.Lock()
	var samples []time.Duration
	if s.filled {
		samples = append(samples, s.window...)
	} else {
		samples = append(samples, s.window[:s.cursor]...)
	}
	s.mu.Unlock()

	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	idx := int(p / 100 * float64(len(samples)))
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return samples[idx]
}
