// Package observability provides logging, metrics, and context support for
// the records service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Add document or bucket fields to a logger:
//
//	logger = observability.WithDocumentContext(logger, tenantID, documentID)
//	logger = observability.WithBucketContext(logger, bucket.Key())
//
// # Metrics
//
// Metrics are registered with the default Prometheus registry:
//
//	metrics := observability.NewMetrics("records")
//	metrics.RecordClassification("allocated", elapsed.Seconds())
//
// A nil *Metrics is valid and records nothing.
//
// # Standard Fields
//
//   - request_id: HTTP request identifier
//   - tenant_id: Tenant identifier
//   - actor_id: Acting user
//   - document_id: Document identifier
//   - bucket: Sequence bucket key
//   - event_id, event_type: Outbox event
//   - trace_id, span_id: Distributed trace identifiers
package observability
