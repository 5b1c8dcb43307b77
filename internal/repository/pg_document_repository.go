package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/sequence"
)

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation = "23505" // unique_violation
)

// documentsControlNumberUnique is the unique index on
// (tenant_id, bucket_window, control_number).
const documentsControlNumberUnique = "documents_tenant_window_control_number_key"

// documentColumns is the column list shared by every document SELECT.
const documentColumns = `id, tenant_id, subject,
			type, classification, sub_classification, confidentiality_level,
			control_number, date_classified,
			printed, signed, uploaded, released, receipt, acknowledged,
			status, previous_status, final_status,
			assigned_to, included, excluded,
			created_by, updated_by, created_at, updated_at`

// bucketKinds are the category kinds recorded in documents.bucket_kind.
var bucketKinds = map[string]bool{
	domain.FieldType:              true,
	domain.FieldClassification:    true,
	domain.FieldSubClassification: true,
}

// Compile-time interface verification.
var _ DocumentRepository = (*PgDocumentRepository)(nil)

// PgDocumentRepository is a PostgreSQL implementation of DocumentRepository.
type PgDocumentRepository struct {
	db DBTX
}

// NewPgDocumentRepository creates a new PostgreSQL document repository.
func NewPgDocumentRepository(db DBTX) *PgDocumentRepository {
	return &PgDocumentRepository{db: db}
}

// Create inserts a new document.
func (r *PgDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	if doc == nil {
		return domain.NewValidationError("document", "document cannot be nil")
	}
	if doc.ID == uuid.Nil {
		return domain.NewValidationError("id", "document ID is required")
	}
	if doc.TenantID == "" {
		return domain.NewValidationError("tenant_id", "tenant ID is required")
	}
	if doc.CreatedBy == "" {
		return domain.NewValidationError("created_by", "creator is required")
	}

	query := `
		INSERT INTO documents (
			id, tenant_id, subject,
			type, classification, sub_classification, confidentiality_level,
			control_number, date_classified,
			printed, signed, uploaded, released, receipt, acknowledged,
			status, previous_status, final_status,
			assigned_to, included, excluded,
			created_by, updated_by, created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18,
			$19, $20, $21,
			$22, $23, $24, $25
		)`

	_, err := r.db.Exec(ctx, query,
		doc.ID, doc.TenantID, doc.Subject,
		string(doc.Type), doc.Classification, doc.SubClassification, doc.ConfidentialityLevel,
		doc.ControlNumber, doc.DateClassified,
		doc.Process.Printed, doc.Process.Signed, doc.Process.Uploaded,
		doc.Process.Released, doc.Process.Receipt, doc.Process.Acknowledged,
		string(doc.Status), statusPtr(doc.PreviousStatus), finalStatusPtr(doc.FinalStatus),
		nonNil(doc.AssignedTo), nonNil(doc.Included), nonNil(doc.Excluded),
		doc.CreatedBy, nullString(doc.UpdatedBy), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			if isConstraint(err, documentsControlNumberUnique) && doc.ControlNumber != nil {
				return &domain.DuplicateControlNumberError{TenantID: doc.TenantID, ControlNumber: *doc.ControlNumber}
			}
			return domain.NewAlreadyExistsError("document", doc.ID.String())
		}
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// Get retrieves a document by ID within a tenant.
func (r *PgDocumentRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE id = $1 AND tenant_id = $2`

	doc, err := scanDocument(r.db.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("document", id.String())
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// GetForUpdate retrieves a document and locks its row.
func (r *PgDocumentRepository) GetForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE`

	doc, err := scanDocument(r.db.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("document", id.String())
		}
		return nil, fmt.Errorf("failed to get document for update: %w", err)
	}
	return doc, nil
}

// Save persists the mutable lifecycle state of a document.
func (r *PgDocumentRepository) Save(ctx context.Context, doc *domain.Document) error {
	if doc == nil {
		return domain.NewValidationError("document", "document cannot be nil")
	}

	query := `
		UPDATE documents SET
			subject = $1,
			type = $2,
			classification = $3,
			sub_classification = $4,
			confidentiality_level = $5,
			printed = $6,
			signed = $7,
			uploaded = $8,
			released = $9,
			receipt = $10,
			acknowledged = $11,
			status = $12,
			previous_status = $13,
			final_status = $14,
			assigned_to = $15,
			included = $16,
			excluded = $17,
			updated_by = $18,
			updated_at = $19
		WHERE id = $20 AND tenant_id = $21`

	result, err := r.db.Exec(ctx, query,
		doc.Subject,
		string(doc.Type),
		doc.Classification,
		doc.SubClassification,
		doc.ConfidentialityLevel,
		doc.Process.Printed,
		doc.Process.Signed,
		doc.Process.Uploaded,
		doc.Process.Released,
		doc.Process.Receipt,
		doc.Process.Acknowledged,
		string(doc.Status),
		statusPtr(doc.PreviousStatus),
		finalStatusPtr(doc.FinalStatus),
		nonNil(doc.AssignedTo),
		nonNil(doc.Included),
		nonNil(doc.Excluded),
		nullString(doc.UpdatedBy),
		doc.UpdatedAt,
		doc.ID, doc.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("document", doc.ID.String())
	}
	return nil
}

// PersistClassification writes the control number and classification fields.
// The bucket the number was drawn from is stored with it, so later history
// reads find the document even if its fields change. bucket is nil when the
// scheme has no sequence segment.
func (r *PgDocumentRepository) PersistClassification(
	ctx context.Context,
	tenantID string,
	id uuid.UUID,
	controlNumber string,
	bucket *sequence.Bucket,
	dateClassified time.Time,
	fields domain.ClassificationFields,
) (*domain.Document, error) {
	if controlNumber == "" {
		return nil, domain.NewValidationError("control_number", "control number is required")
	}

	var docType *string
	if fields.Type != nil {
		t := string(*fields.Type)
		docType = &t
	}

	var bucketKind, bucketValue, bucketWindow string
	if bucket != nil {
		bucketKind, bucketValue, bucketWindow = bucket.CategoryKind, bucket.CategoryValue, bucket.Window.Key()
	}

	query := `
		UPDATE documents SET
			control_number = $1,
			date_classified = $2,
			type = COALESCE($3, type),
			classification = COALESCE($4, classification),
			sub_classification = COALESCE($5, sub_classification),
			confidentiality_level = COALESCE($6, confidentiality_level),
			bucket_kind = $9,
			bucket_value = $10,
			bucket_window = $11,
			updated_at = $2
		WHERE id = $7 AND tenant_id = $8 AND control_number IS NULL
		RETURNING ` + documentColumns

	doc, err := scanDocument(r.db.QueryRow(ctx, query,
		controlNumber, dateClassified,
		docType, fields.Classification, fields.SubClassification, fields.ConfidentialityLevel,
		id, tenantID,
		bucketKind, bucketValue, bucketWindow,
	))
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, &domain.DuplicateControlNumberError{TenantID: tenantID, ControlNumber: controlNumber}
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("unclassified document", id.String())
		}
		return nil, fmt.Errorf("failed to persist classification: %w", err)
	}
	return doc, nil
}

// FindLatestInBucket returns the most recently classified document in the
// bucket. Membership is the bucket recorded at classification time, not the
// document's current fields.
func (r *PgDocumentRepository) FindLatestInBucket(ctx context.Context, p sequence.BucketPredicate) (*domain.Document, error) {
	if !bucketKinds[p.CategoryKind] {
		return nil, domain.NewValidationError("category_kind", "unknown bucket key "+p.CategoryKind)
	}
	if p.TenantID == "" {
		return nil, domain.NewValidationError("tenant_id", "tenant ID is required")
	}

	conditions := []string{
		"tenant_id = $1",
		"control_number IS NOT NULL",
		"date_classified IS NOT NULL",
		"bucket_kind = $2",
		"bucket_value = $3",
	}
	args := []interface{}{p.TenantID, p.CategoryKind, p.CategoryValue}
	argIndex := 4

	if p.ExcludeDeleted {
		conditions = append(conditions, fmt.Sprintf("status <> $%d", argIndex))
		args = append(args, string(domain.DocumentStatusDeleted))
		argIndex++
	}
	if p.WindowStart != nil {
		conditions = append(conditions, fmt.Sprintf("date_classified >= $%d", argIndex))
		args = append(args, *p.WindowStart)
		argIndex++
	}
	if p.WindowEnd != nil {
		conditions = append(conditions, fmt.Sprintf("date_classified <= $%d", argIndex))
		args = append(args, *p.WindowEnd)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM documents
		WHERE %s
		ORDER BY date_classified DESC, control_number DESC
		LIMIT 1`, documentColumns, strings.Join(conditions, " AND "))

	doc, err := scanDocument(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find latest document in bucket: %w", err)
	}
	return doc, nil
}

// List retrieves documents matching the filter criteria.
func (r *PgDocumentRepository) List(ctx context.Context, filter DocumentFilter) ([]*domain.Document, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	conditions := []string{"tenant_id = $1"}
	args := []interface{}{filter.TenantID}
	argIndex := 2

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, string(t))
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, string(filter.Status))
		argIndex++
	}

	if filter.Classified != nil {
		if *filter.Classified {
			conditions = append(conditions, "control_number IS NOT NULL")
		} else {
			conditions = append(conditions, "control_number IS NULL")
		}
	}

	if filter.MaxConfidentiality != nil {
		conditions = append(conditions, fmt.Sprintf("(confidentiality_level IS NULL OR confidentiality_level <= $%d)", argIndex))
		args = append(args, *filter.MaxConfidentiality)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM documents WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM documents
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		documentColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*domain.Document, 0, filter.Limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, totalCount, nil
}

// documentScanDest holds the destination pointers for scanning a Document row.
type documentScanDest struct {
	doc            domain.Document
	docType        string
	status         string
	previousStatus *string
	finalStatus    *string
	updatedBy      *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *documentScanDest) destinations() []interface{} {
	return []interface{}{
		&d.doc.ID, &d.doc.TenantID, &d.doc.Subject,
		&d.docType, &d.doc.Classification, &d.doc.SubClassification, &d.doc.ConfidentialityLevel,
		&d.doc.ControlNumber, &d.doc.DateClassified,
		&d.doc.Process.Printed, &d.doc.Process.Signed, &d.doc.Process.Uploaded,
		&d.doc.Process.Released, &d.doc.Process.Receipt, &d.doc.Process.Acknowledged,
		&d.status, &d.previousStatus, &d.finalStatus,
		&d.doc.AssignedTo, &d.doc.Included, &d.doc.Excluded,
		&d.doc.CreatedBy, &d.updatedBy, &d.doc.CreatedAt, &d.doc.UpdatedAt,
	}
}

// finalize converts the scanned text columns into domain types.
func (d *documentScanDest) finalize() *domain.Document {
	d.doc.Type = domain.DocumentType(d.docType)
	d.doc.Status = domain.DocumentStatus(d.status)
	if d.previousStatus != nil {
		s := domain.DocumentStatus(*d.previousStatus)
		d.doc.PreviousStatus = &s
	}
	if d.finalStatus != nil {
		s := domain.FinalStatus(*d.finalStatus)
		d.doc.FinalStatus = &s
	}
	if d.updatedBy != nil {
		d.doc.UpdatedBy = *d.updatedBy
	}
	return &d.doc
}

// scanDocument scans a single row into a Document. pgx.Rows satisfies pgx.Row.
func scanDocument(row pgx.Row) (*domain.Document, error) {
	var dest documentScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize(), nil
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// isConstraint reports whether err is a PostgreSQL error raised by the named constraint.
func isConstraint(err error, name string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName == name
	}
	return false
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func statusPtr(s *domain.DocumentStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func finalStatusPtr(s *domain.FinalStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

// nonNil keeps NOT NULL array columns from receiving SQL NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
