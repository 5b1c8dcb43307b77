package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/observability"
)

const defaultServiceName = "records-service"

// Metadata keys attached to every emitted event.
const (
	MetadataSource    = "source"
	MetadataActor     = "actor"
	MetadataRequestID = "request_id"
	MetadataTraceID   = "trace_id"
)

// EmitterConfig configures the Emitter with service context.
type EmitterConfig struct {
	// ServiceName identifies the source service.
	ServiceName string
}

// EmitParams contains the parameters for emitting a document event.
type EmitParams struct {
	// DocumentID is the aggregate ID.
	DocumentID string
	// TenantID scopes the event.
	TenantID string
	// EventType is the type of event (e.g., "document.classified").
	EventType string
	// Payload is serialized as JSON.
	Payload interface{}
	// Actor is the user whose action produced the event (optional).
	Actor string
	// OccurredAt becomes the event's creation time.
	OccurredAt time.Time
}

// Emitter builds outbox events enriched with service and request context.
type Emitter struct {
	config EmitterConfig
}

// NewEmitter creates a new Emitter.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	return &Emitter{config: config}
}

// Emit creates an outbox event ready to be appended within the transaction
// that produced it. Request and trace IDs are read from ctx.
func (e *Emitter) Emit(ctx context.Context, params EmitParams) (*domain.OutboxEvent, error) {
	if params.DocumentID == "" {
		return nil, fmt.Errorf("document_id is required")
	}
	if params.EventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	event, err := domain.NewOutboxEvent(params.EventType, params.DocumentID, domain.AggregateTypeDocument, params.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	metadata := map[string]interface{}{MetadataSource: e.config.ServiceName}
	if params.Actor != "" {
		metadata[MetadataActor] = params.Actor
	}
	if requestID := observability.RequestIDFromContext(ctx); requestID != "" {
		metadata[MetadataRequestID] = requestID
	}
	if traceID, _ := observability.TraceSpanFromContext(ctx); traceID != "" {
		metadata[MetadataTraceID] = traceID
	}

	event.WithTenant(params.TenantID).WithMetadata(metadata)
	if !params.OccurredAt.IsZero() {
		event.CreatedAt = params.OccurredAt
	}
	return event, nil
}
