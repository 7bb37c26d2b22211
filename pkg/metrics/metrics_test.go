package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimerObserveLabelsOutcome(t *testing.T) {
	before := testutil.CollectAndCount(SessionDuration)

	ok := NewTimer("timer_test")
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, ok.Observe(nil), time.Millisecond)

	failed := NewTimer("timer_test")
	failed.Observe(errors.New("boom"))

	// one new series per outcome
	assert.Equal(t, before+2, testutil.CollectAndCount(SessionDuration))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(RowsWritten.WithLabelValues("metrics_test"))
	RowsWritten.WithLabelValues("metrics_test").Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(RowsWritten.WithLabelValues("metrics_test")))

	RowsRead.WithLabelValues("metrics_test").Inc()
	BytesWritten.WithLabelValues("metrics_test").Add(10)

	collectors := map[string]prometheus.Collector{
		"pqshim_rows_read_total":          RowsRead,
		"pqshim_rows_written_total":       RowsWritten,
		"pqshim_splits_planned_total":     SplitsPlanned,
		"pqshim_bytes_written_total":      BytesWritten,
		"pqshim_row_groups_flushed_total": RowGroupsFlushed,
	}
	for name, c := range collectors {
		assert.GreaterOrEqual(t, testutil.CollectAndCount(c, name), 1, name)
	}
}
