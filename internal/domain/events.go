package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for outbox events.
const (
	EventTypeDocumentCreated     = "document.created"
	EventTypeDocumentClassified  = "document.classified"
	EventTypeDocumentTypeChanged = "document.type_changed"
	EventTypeDocumentReleased    = "document.released"
	EventTypeDocumentDeleted     = "document.deleted"
	EventTypeDocumentRestored    = "document.restored"
)

// AggregateTypeDocument is the aggregate type of all document events.
const AggregateTypeDocument = "document"

// OutboxEvent represents an event to be published via the outbox pattern.
type OutboxEvent struct {
	EventID       string
	EventVersion  int
	AggregateID   string
	AggregateType string
	EventType     string
	TenantID      string
	Payload       []byte
	Metadata      map[string]interface{}
	CreatedAt     time.Time

	// Delivery bookkeeping, populated when read back from the outbox table.
	Attempts    int
	PublishedAt *time.Time
	LastError   string
}

// NewOutboxEvent creates a new outbox event with the given parameters.
// The payload is JSON-serialized automatically.
func NewOutboxEvent(eventType, aggregateID, aggregateType string, payload interface{}) (*OutboxEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &OutboxEvent{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// WithTenant sets the tenant on the event.
func (e *OutboxEvent) WithTenant(tenantID string) *OutboxEvent {
	e.TenantID = tenantID
	return e
}

// WithMetadata sets the metadata on the event.
func (e *OutboxEvent) WithMetadata(metadata map[string]interface{}) *OutboxEvent {
	e.Metadata = metadata
	return e
}

// DocumentCreatedPayload is the payload for document.created events.
type DocumentCreatedPayload struct {
	DocumentID uuid.UUID    `json:"document_id"`
	TenantID   string       `json:"tenant_id"`
	Type       DocumentType `json:"type"`
	CreatedBy  string       `json:"created_by"`
}

// DocumentClassifiedPayload is the payload for document.classified events.
type DocumentClassifiedPayload struct {
	DocumentID        uuid.UUID    `json:"document_id"`
	TenantID          string       `json:"tenant_id"`
	ControlNumber     string       `json:"control_number"`
	DateClassified    time.Time    `json:"date_classified"`
	Type              DocumentType `json:"type"`
	Classification    string       `json:"classification,omitempty"`
	SubClassification string       `json:"sub_classification,omitempty"`
	ClassifiedBy      string       `json:"classified_by"`
}

// DocumentTypeChangedPayload is the payload for document.type_changed events.
type DocumentTypeChangedPayload struct {
	DocumentID   uuid.UUID    `json:"document_id"`
	TenantID     string       `json:"tenant_id"`
	PreviousType DocumentType `json:"previous_type"`
	Type         DocumentType `json:"type"`
}

// DocumentReleasedPayload is the payload for document.released events.
// Downstream consumers package attachments and notify recipients.
type DocumentReleasedPayload struct {
	DocumentID    uuid.UUID `json:"document_id"`
	TenantID      string    `json:"tenant_id"`
	ControlNumber string    `json:"control_number,omitempty"`
	Recipients    []string  `json:"recipients,omitempty"`
	ReleasedBy    string    `json:"released_by"`
}

// DocumentStatusPayload is the payload for document.deleted and document.restored events.
type DocumentStatusPayload struct {
	DocumentID uuid.UUID      `json:"document_id"`
	TenantID   string         `json:"tenant_id"`
	Status     DocumentStatus `json:"status"`
	ChangedBy  string         `json:"changed_by"`
}
