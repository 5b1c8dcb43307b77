package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/helixir/records-service/internal/domain"
)

// Compile-time interface verification.
var _ OutboxRepository = (*PgOutboxRepository)(nil)

// PgOutboxRepository is a PostgreSQL implementation of OutboxRepository.
type PgOutboxRepository struct {
	db DBTX
}

// NewPgOutboxRepository creates a new PostgreSQL outbox repository.
func NewPgOutboxRepository(db DBTX) *PgOutboxRepository {
	return &PgOutboxRepository{db: db}
}

// AppendEvent stores an event in the outbox.
func (r *PgOutboxRepository) AppendEvent(ctx context.Context, event *domain.OutboxEvent) error {
	if event == nil {
		return domain.NewValidationError("event", "event cannot be nil")
	}
	if event.EventID == "" {
		return domain.NewValidationError("event_id", "event ID is required")
	}
	if event.EventType == "" {
		return domain.NewValidationError("event_type", "event type is required")
	}

	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	query := `
		INSERT INTO outbox_events (
			event_id, event_version, aggregate_id, aggregate_type, event_type,
			tenant_id, payload, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		event.EventID, event.EventVersion, event.AggregateID, event.AggregateType, event.EventType,
		nullString(event.TenantID), event.Payload, metadataJSON, event.CreatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("outbox event", event.EventID)
		}
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}

// FetchPending claims up to limit undelivered events in creation order.
func (r *PgOutboxRepository) FetchPending(ctx context.Context, limit, maxAttempts int) ([]*domain.OutboxEvent, error) {
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", "limit must be positive")
	}

	query := `
		SELECT event_id, event_version, aggregate_id, aggregate_type, event_type,
			tenant_id, payload, metadata, created_at, attempts, last_error
		FROM outbox_events
		WHERE published_at IS NULL AND attempts < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	rows, err := r.db.Query(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending outbox events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var (
			e            domain.OutboxEvent
			tenantID     *string
			metadataJSON []byte
			lastError    *string
		)
		if err := rows.Scan(
			&e.EventID, &e.EventVersion, &e.AggregateID, &e.AggregateType, &e.EventType,
			&tenantID, &e.Payload, &metadataJSON, &e.CreatedAt, &e.Attempts, &lastError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		if tenantID != nil {
			e.TenantID = *tenantID
		}
		if lastError != nil {
			e.LastError = *lastError
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}
	return events, nil
}

// MarkPublished records successful delivery.
func (r *PgOutboxRepository) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	query := `
		UPDATE outbox_events
		SET published_at = $1, attempts = attempts + 1, last_error = NULL
		WHERE event_id = $2`

	result, err := r.db.Exec(ctx, query, publishedAt, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event published: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("outbox event", eventID)
	}
	return nil
}

// MarkFailed records a failed delivery attempt.
func (r *PgOutboxRepository) MarkFailed(ctx context.Context, eventID string, reason string) error {
	query := `
		UPDATE outbox_events
		SET attempts = attempts + 1, last_error = $1
		WHERE event_id = $2`

	result, err := r.db.Exec(ctx, query, reason, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("outbox event", eventID)
	}
	return nil
}
