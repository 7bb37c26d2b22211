// Package metrics provides Prometheus instrumentation for pqshim reading and
// writing sessions.
//
// # Basic Usage
//
//	metrics.RowsRead.WithLabelValues("local").Add(float64(n))
//
//	timer := metrics.NewTimer("writer")
//	err := w.Close()
//	timer.Observe(err)
//
// All collectors are registered on the default registry through promauto.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsRead tracks rows yielded by record readers.
	// Labels: backend (local/s3)
	RowsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pqshim_rows_read_total",
			Help: "Total number of rows decoded from parquet files",
		},
		[]string{"backend"},
	)

	// RowsWritten tracks rows accepted by record writers.
	// Labels: backend (local/s3)
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pqshim_rows_written_total",
			Help: "Total number of rows encoded into parquet files",
		},
		[]string{"backend"},
	)

	// SplitsPlanned tracks splits produced by the planner.
	SplitsPlanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pqshim_splits_planned_total",
			Help: "Total number of input splits planned",
		},
	)

	// BytesWritten tracks encoded bytes of committed files.
	// Labels: backend (local/s3)
	BytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pqshim_bytes_written_total",
			Help: "Total number of parquet bytes committed",
		},
		[]string{"backend"},
	)

	// RowGroupsFlushed tracks row groups emitted by writers.
	RowGroupsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pqshim_row_groups_flushed_total",
			Help: "Total number of row groups flushed by writers",
		},
	)

	// SessionDuration tracks the lifetime of reader and writer sessions in seconds.
	// Labels: kind (reader/writer), outcome (ok/error)
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pqshim_session_duration_seconds",
			Help:    "Duration of reader and writer sessions",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"kind", "outcome"},
	)
)

// Timer provides a simple timing mechanism for measuring session durations.
type Timer struct {
	start time.Time
	kind  string
}

// NewTimer creates a new timer and starts timing immediately.
// kind labels the session ("reader" or "writer").
func NewTimer(kind string) *Timer {
	return &Timer{
		start: time.Now(),
		kind:  kind,
	}
}

// Elapsed returns the time since the timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Observe records the elapsed time in SessionDuration under the given outcome
// and returns it.
func (t *Timer) Observe(err error) time.Duration {
	d := t.Elapsed()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SessionDuration.WithLabelValues(t.kind, outcome).Observe(d.Seconds())
	return d
}
