package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the records service.
// Metrics are organized by subsystem: allocation, classification, lifecycle
// transitions, propagation, outbox delivery and receipts. All collectors are
// registered via promauto with the default Prometheus registry.
//
// Record methods are safe to call on a nil *Metrics, which lets components
// run without instrumentation in tests.
type Metrics struct {
	// AllocationsTotal counts sequence values handed out, labeled by strategy.
	AllocationsTotal *prometheus.CounterVec

	// WindowResets counts allocations that restarted a sequence at its start value
	// because the previous value belonged to an older window, labeled by strategy.
	WindowResets *prometheus.CounterVec

	// CorruptHistory counts historical control numbers whose sequence segment
	// could not be parsed.
	CorruptHistory prometheus.Counter

	// AllocationRetries counts classifications retried after a duplicate control number.
	AllocationRetries prometheus.Counter

	// AllocationConflicts counts classifications that still collided after retrying.
	AllocationConflicts prometheus.Counter

	// LockWaitDuration observes time spent acquiring bucket locks, labeled by backend.
	LockWaitDuration *prometheus.HistogramVec

	// ClassificationsTotal counts classify calls, labeled by result
	// (allocated, idempotent, rejected, failed).
	ClassificationsTotal *prometheus.CounterVec

	// ClassifyDuration observes end-to-end classify latency in seconds.
	ClassifyDuration prometheus.Histogram

	// TransitionsTotal counts lifecycle transitions, labeled by transition and result.
	TransitionsTotal *prometheus.CounterVec

	// PropagationFailures counts failed derived-record updates, labeled by trigger.
	PropagationFailures *prometheus.CounterVec

	// OutboxPublished counts outbox events delivered to Kafka.
	OutboxPublished prometheus.Counter

	// OutboxFailed counts outbox delivery failures.
	OutboxFailed prometheus.Counter

	// OutboxBatchDuration observes the duration of one relay batch in seconds.
	OutboxBatchDuration prometheus.Histogram

	// ReceiptsProcessed counts recipient receipt messages, labeled by result.
	ReceiptsProcessed *prometheus.CounterVec

	// RequestsRateLimited counts API requests rejected by the tenant rate limiter.
	RequestsRateLimited prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Allocation
		AllocationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_allocations_total",
			Help:      "Total number of sequence values allocated",
		}, []string{"strategy"}),
		WindowResets: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_window_resets_total",
			Help:      "Total number of sequence restarts caused by window rollover",
		}, []string{"strategy"}),
		CorruptHistory: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_corrupt_history_total",
			Help:      "Total number of unparseable historical control numbers",
		}),
		AllocationRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_retries_total",
			Help:      "Total number of classifications retried after a duplicate control number",
		}),
		AllocationConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_conflicts_total",
			Help:      "Total number of classifications that collided after retrying",
		}),
		LockWaitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bucket_lock_wait_seconds",
			Help:      "Time spent waiting for sequence bucket locks",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"backend"}),

		// Classification
		ClassificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Total number of classify calls by result",
		}, []string{"result"}),
		ClassifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Duration of classify calls in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		// Lifecycle
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of lifecycle transitions by name and result",
		}, []string{"transition", "result"}),
		PropagationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "propagation_failures_total",
			Help:      "Total number of failed derived-record updates",
		}, []string{"trigger"}),

		// Outbox
		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Total number of outbox events published",
		}),
		OutboxFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_failed_total",
			Help:      "Total number of outbox publish failures",
		}),
		OutboxBatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_batch_duration_seconds",
			Help:      "Duration of outbox relay batches in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Receipts
		ReceiptsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_processed_total",
			Help:      "Total number of recipient receipt messages processed",
		}, []string{"result"}),

		// HTTP
		RequestsRateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rate_limited_total",
			Help:      "Total number of API requests rejected by the tenant rate limiter",
		}),
	}
}

// RecordAllocation records one allocated sequence value.
func (m *Metrics) RecordAllocation(strategy string, reset bool) {
	if m == nil {
		return
	}
	m.AllocationsTotal.WithLabelValues(strategy).Inc()
	if reset {
		m.WindowResets.WithLabelValues(strategy).Inc()
	}
}

// RecordCorruptHistory records an unparseable historical control number.
func (m *Metrics) RecordCorruptHistory() {
	if m == nil {
		return
	}
	m.CorruptHistory.Inc()
}

// RecordAllocationRetry records a retry after a duplicate control number.
func (m *Metrics) RecordAllocationRetry() {
	if m == nil {
		return
	}
	m.AllocationRetries.Inc()
}

// RecordAllocationConflict records a classification that kept colliding.
func (m *Metrics) RecordAllocationConflict() {
	if m == nil {
		return
	}
	m.AllocationConflicts.Inc()
}

// RecordLockWait records the time spent acquiring a bucket lock.
func (m *Metrics) RecordLockWait(backend string, seconds float64) {
	if m == nil {
		return
	}
	m.LockWaitDuration.WithLabelValues(backend).Observe(seconds)
}

// RecordClassification records the outcome and latency of a classify call.
func (m *Metrics) RecordClassification(result string, seconds float64) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(result).Inc()
	m.ClassifyDuration.Observe(seconds)
}

// RecordTransition records a lifecycle transition outcome.
func (m *Metrics) RecordTransition(transition, result string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(transition, result).Inc()
}

// RecordPropagationFailure records a failed derived-record update.
func (m *Metrics) RecordPropagationFailure(trigger string) {
	if m == nil {
		return
	}
	m.PropagationFailures.WithLabelValues(trigger).Inc()
}

// RecordOutboxBatch records the result of one relay batch.
func (m *Metrics) RecordOutboxBatch(published, failed int, seconds float64) {
	if m == nil {
		return
	}
	m.OutboxPublished.Add(float64(published))
	m.OutboxFailed.Add(float64(failed))
	m.OutboxBatchDuration.Observe(seconds)
}

// RecordReceipt records a processed receipt message.
func (m *Metrics) RecordReceipt(result string) {
	if m == nil {
		return
	}
	m.ReceiptsProcessed.WithLabelValues(result).Inc()
}

// RecordRateLimited records a rate-limited API request.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RequestsRateLimited.Inc()
}
