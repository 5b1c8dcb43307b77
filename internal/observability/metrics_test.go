package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_records_new")

	assert.NotNil(t, m.AllocationsTotal)
	assert.NotNil(t, m.WindowResets)
	assert.NotNil(t, m.CorruptHistory)
	assert.NotNil(t, m.AllocationRetries)
	assert.NotNil(t, m.AllocationConflicts)
	assert.NotNil(t, m.LockWaitDuration)
	assert.NotNil(t, m.ClassificationsTotal)
	assert.NotNil(t, m.ClassifyDuration)
	assert.NotNil(t, m.TransitionsTotal)
	assert.NotNil(t, m.PropagationFailures)
	assert.NotNil(t, m.OutboxPublished)
	assert.NotNil(t, m.OutboxFailed)
	assert.NotNil(t, m.OutboxBatchDuration)
	assert.NotNil(t, m.ReceiptsProcessed)
	assert.NotNil(t, m.RequestsRateLimited)
}

func TestRecordAllocation(t *testing.T) {
	m := NewMetrics("test_records_allocation")

	m.RecordAllocation("counter", false)
	m.RecordAllocation("counter", true)
	m.RecordAllocation("history", false)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.AllocationsTotal.WithLabelValues("counter")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AllocationsTotal.WithLabelValues("history")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WindowResets.WithLabelValues("counter")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.WindowResets.WithLabelValues("history")))
}

func TestRecordAllocationFailures(t *testing.T) {
	m := NewMetrics("test_records_allocation_failures")

	m.RecordCorruptHistory()
	m.RecordAllocationRetry()
	m.RecordAllocationRetry()
	m.RecordAllocationConflict()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CorruptHistory))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AllocationRetries))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AllocationConflicts))
}

func TestRecordClassification(t *testing.T) {
	m := NewMetrics("test_records_classification")

	m.RecordClassification("allocated", 0.02)
	m.RecordClassification("idempotent", 0.001)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ClassificationsTotal.WithLabelValues("allocated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ClassificationsTotal.WithLabelValues("idempotent")))

	count, err := getHistogramSampleCount(m.ClassifyDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestRecordTransition(t *testing.T) {
	m := NewMetrics("test_records_transition")

	m.RecordTransition("release", "ok")
	m.RecordTransition("release", "rejected")
	m.RecordTransition("release", "rejected")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("release", "ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("release", "rejected")))
}

func TestRecordOutboxBatch(t *testing.T) {
	m := NewMetrics("test_records_outbox")

	m.RecordOutboxBatch(5, 1, 0.3)

	assert.Equal(t, float64(5), testutil.ToFloat64(m.OutboxPublished))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxFailed))

	count, err := getHistogramSampleCount(m.OutboxBatchDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRecordMiscellaneous(t *testing.T) {
	m := NewMetrics("test_records_misc")

	m.RecordPropagationFailure("classify")
	m.RecordReceipt("ok")
	m.RecordRateLimited()
	m.RecordLockWait("redis", 0.004)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PropagationFailures.WithLabelValues("classify")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReceiptsProcessed.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsRateLimited))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LockWaitDuration))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordAllocation("counter", true)
		m.RecordCorruptHistory()
		m.RecordAllocationRetry()
		m.RecordAllocationConflict()
		m.RecordLockWait("local", 1)
		m.RecordClassification("allocated", 1)
		m.RecordTransition("print", "ok")
		m.RecordPropagationFailure("change_type")
		m.RecordOutboxBatch(1, 0, 1)
		m.RecordReceipt("ok")
		m.RecordRateLimited()
	})
}

// getHistogramSampleCount extracts the sample count from a histogram.
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
