package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/helixir/records-service/internal/domain"
)

// Compile-time interface verification.
var _ SearchRecordRepository = (*PgSearchRecordRepository)(nil)

// PgSearchRecordRepository is a PostgreSQL implementation of SearchRecordRepository.
type PgSearchRecordRepository struct {
	db DBTX
}

// NewPgSearchRecordRepository creates a new PostgreSQL search record repository.
func NewPgSearchRecordRepository(db DBTX) *PgSearchRecordRepository {
	return &PgSearchRecordRepository{db: db}
}

// UpdateDerivedRecords upserts the derived classification fields of a document.
func (r *PgSearchRecordRepository) UpdateDerivedRecords(ctx context.Context, tenantID string, id uuid.UUID, fields domain.DerivedFields) error {
	if tenantID == "" {
		return domain.NewValidationError("tenant_id", "tenant ID is required")
	}
	if id == uuid.Nil {
		return domain.NewValidationError("document_id", "document ID is required")
	}

	query := `
		INSERT INTO search_records (
			document_id, tenant_id, control_number, type, classification, sub_classification, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (document_id) DO UPDATE SET
			control_number = EXCLUDED.control_number,
			type = EXCLUDED.type,
			classification = EXCLUDED.classification,
			sub_classification = EXCLUDED.sub_classification,
			updated_at = NOW()`

	_, err := r.db.Exec(ctx, query,
		id, tenantID, fields.ControlNumber, string(fields.Type), fields.Classification, fields.SubClassification,
	)
	if err != nil {
		return fmt.Errorf("failed to update search record: %w", err)
	}
	return nil
}
