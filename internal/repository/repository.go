// Package repository provides data access interfaces and implementations
// for the records service.
//
// # Overview
//
// This package defines repository interfaces and their PostgreSQL implementations
// following the repository pattern to abstract data persistence from business logic.
//
// # Repository Interfaces
//
//   - DocumentRepository: documents, classification writes and bucket history
//   - CounterRepository: per-bucket sequence counters and bucket locks
//   - SearchRecordRepository: denormalized search records kept in sync with documents
//   - OutboxRepository: transactional outbox for document events
//
// Store combines them: reads go to the pool, and InTx hands a Tx bound to a
// single transaction to the caller. A Tx satisfies sequence.Source, so the
// allocators run on the same transaction that persists the control number.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package.
// Wrap database errors with context using fmt.Errorf with %w verb.
//
//   - domain.ErrNotFound: Resource does not exist
//   - domain.ErrAlreadyExists: Unique constraint violation on a primary key
//   - domain.ErrDuplicateControlNumber: control number already issued for the tenant
//   - domain.ErrInvalidInput: Invalid parameters provided
//
// # Usage Pattern
//
//	db, _ := database.New(ctx, cfg, logger)
//	store := repository.NewPgStore(db)
//	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
//	    doc, err := tx.GetForUpdate(ctx, tenantID, id)
//	    ...
//	})
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/records-service/internal/database"
	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/sequence"
)

// DBTX is the database interface supporting both pool and transaction contexts.
// This allows repositories to work with both direct pool connections and transactions.
//
//	err := repository.WithTx(ctx, db, func(tx pgx.Tx) error {
//	    txRepo := repository.NewPgDocumentRepository(tx)
//	    return txRepo.Create(ctx, doc)
//	})
type DBTX = database.DBTX

// Tx is the set of repository operations bound to one transaction.
type Tx interface {
	sequence.Source

	GetForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Document, error)
	Create(ctx context.Context, doc *domain.Document) error
	Save(ctx context.Context, doc *domain.Document) error
	PersistClassification(ctx context.Context, tenantID string, id uuid.UUID, controlNumber string, bucket *sequence.Bucket, dateClassified time.Time, fields domain.ClassificationFields) (*domain.Document, error)
	AppendEvent(ctx context.Context, event *domain.OutboxEvent) error
}

// Store is the persistence boundary used by the lifecycle service.
type Store interface {
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Document, error)
	List(ctx context.Context, filter DocumentFilter) ([]*domain.Document, int64, error)

	// InTx runs fn in a transaction. The transaction commits when fn returns
	// nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
