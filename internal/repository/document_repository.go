package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/sequence"
)

// DocumentRepository handles document persistence with tenant isolation.
type DocumentRepository interface {
	// Create inserts a new document.
	// Returns domain.ErrAlreadyExists if a document with the same ID exists.
	// Returns domain.ErrInvalidInput if required fields are missing.
	Create(ctx context.Context, doc *domain.Document) error

	// Get retrieves a document by ID within a tenant.
	// Returns domain.ErrNotFound if no matching document exists.
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Document, error)

	// GetForUpdate retrieves a document and locks its row until the
	// surrounding transaction ends. Must be called inside a transaction.
	GetForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Document, error)

	// Save persists the mutable lifecycle state of a document. The control
	// number and classification date are never written by Save.
	// Returns domain.ErrNotFound if no matching document exists.
	Save(ctx context.Context, doc *domain.Document) error

	// PersistClassification writes the control number, the classification
	// date, the classification fields and the sequence bucket in one
	// statement. It refuses to overwrite an existing control number.
	// Returns *domain.DuplicateControlNumberError when the code is already
	// issued for the tenant in the same window.
	PersistClassification(ctx context.Context, tenantID string, id uuid.UUID, controlNumber string, bucket *sequence.Bucket, dateClassified time.Time, fields domain.ClassificationFields) (*domain.Document, error)

	// FindLatestInBucket returns the most recently classified document
	// matching the predicate, or nil when there is none.
	FindLatestInBucket(ctx context.Context, p sequence.BucketPredicate) (*domain.Document, error)

	// List retrieves documents matching the filter, with the total count for pagination.
	List(ctx context.Context, filter DocumentFilter) ([]*domain.Document, int64, error)
}

// DocumentFilter specifies criteria for listing documents.
type DocumentFilter struct {
	// TenantID is required for tenant isolation.
	TenantID string

	// Types filters by one or more document types (optional).
	Types []domain.DocumentType

	// Status filters by document status (optional).
	Status domain.DocumentStatus

	// Classified filters by whether a control number has been issued (optional).
	Classified *bool

	// MaxConfidentiality hides documents above the caller's clearance.
	// Documents without a confidentiality level are always included.
	MaxConfidentiality *int

	// Limit specifies maximum number of results (default: 50, max: 500).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks if the filter has valid values and sets defaults.
func (f *DocumentFilter) Validate() error {
	if f.TenantID == "" {
		return domain.NewValidationError("tenant_id", "tenant ID is required")
	}
	for _, t := range f.Types {
		if !t.IsValid() {
			return domain.NewValidationError("type", "unknown document type "+string(t))
		}
	}
	if f.Status != "" && !f.Status.IsValid() {
		return domain.NewValidationError("status", "unknown document status "+string(f.Status))
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return nil
}

// CounterRepository maintains per-bucket sequence counters.
type CounterRepository interface {
	// LockBucket takes a transaction-scoped lock on the bucket.
	LockBucket(ctx context.Context, bucket sequence.Bucket) error

	// IncrementCounter advances the bucket counter and returns the new value.
	IncrementCounter(ctx context.Context, bucket sequence.Bucket, start, increment int64) (int64, error)

	// RaiseCounter lifts the bucket counter to at least floor.
	RaiseCounter(ctx context.Context, bucket sequence.Bucket, floor int64) error
}

// SearchRecordRepository maintains the denormalized search records of documents.
type SearchRecordRepository interface {
	// UpdateDerivedRecords copies the derived fields onto every search record
	// of the document. Missing records are created.
	UpdateDerivedRecords(ctx context.Context, tenantID string, id uuid.UUID, fields domain.DerivedFields) error
}

// OutboxRepository stores events for asynchronous delivery.
type OutboxRepository interface {
	// AppendEvent stores an event. Call within the transaction that
	// produced the state change.
	AppendEvent(ctx context.Context, event *domain.OutboxEvent) error

	// FetchPending claims up to limit undelivered events, skipping rows
	// locked by other relays. Must be called inside a transaction.
	FetchPending(ctx context.Context, limit, maxAttempts int) ([]*domain.OutboxEvent, error)

	// MarkPublished records successful delivery.
	MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error

	// MarkFailed records a failed delivery attempt.
	MarkFailed(ctx context.Context, eventID string, reason string) error
}
