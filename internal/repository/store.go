package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/records-service/internal/domain"
)

// txBeginner is an interface for types that can begin a transaction (e.g., *pgxpool.Pool, *database.DB).
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pool is a DBTX that can also begin transactions.
type Pool interface {
	DBTX
	txBeginner
}

// WithTx runs fn in a transaction on pool, committing when fn returns nil.
func WithTx(ctx context.Context, pool Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx binds the repositories to one transaction.
type pgTx struct {
	*PgDocumentRepository
	*PgCounterRepository
	*PgOutboxRepository
}

// Compile-time interface verification.
var (
	_ Tx    = (*pgTx)(nil)
	_ Store = (*PgStore)(nil)
)

// PgStore is the PostgreSQL implementation of Store.
type PgStore struct {
	pool Pool
	docs *PgDocumentRepository
}

// NewPgStore creates a store on the given pool.
func NewPgStore(pool Pool) *PgStore {
	return &PgStore{pool: pool, docs: NewPgDocumentRepository(pool)}
}

// Get retrieves a document outside of any transaction.
func (s *PgStore) Get(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Document, error) {
	return s.docs.Get(ctx, tenantID, id)
}

// List retrieves documents outside of any transaction.
func (s *PgStore) List(ctx context.Context, filter DocumentFilter) ([]*domain.Document, int64, error) {
	return s.docs.List(ctx, filter)
}

// InTx runs fn with a Tx bound to a new transaction.
func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{
			PgDocumentRepository: NewPgDocumentRepository(tx),
			PgCounterRepository:  NewPgCounterRepository(tx),
			PgOutboxRepository:   NewPgOutboxRepository(tx),
		})
	})
}

// InOutboxTx runs fn with an outbox repository bound to a new transaction.
// Events claimed with FetchPending stay locked until fn returns.
func (s *PgStore) InOutboxTx(ctx context.Context, fn func(ctx context.Context, repo OutboxRepository) error) error {
	return WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgOutboxRepository(tx))
	})
}
