package repository

import (
	"context"
	"fmt"

	"github.com/helixir/records-service/internal/database"
	"github.com/helixir/records-service/internal/sequence"
)

// Compile-time interface verification.
var _ CounterRepository = (*PgCounterRepository)(nil)

// PgCounterRepository is a PostgreSQL implementation of CounterRepository.
// Each (tenant, category kind, category value, window key) owns one row in
// sequence_counters, so a new window starts a fresh counter.
type PgCounterRepository struct {
	db DBTX
}

// NewPgCounterRepository creates a new PostgreSQL counter repository.
func NewPgCounterRepository(db DBTX) *PgCounterRepository {
	return &PgCounterRepository{db: db}
}

// LockBucket takes a transaction-scoped advisory lock keyed by the bucket.
// The lock is released when the surrounding transaction ends.
func (r *PgCounterRepository) LockBucket(ctx context.Context, bucket sequence.Bucket) error {
	if err := database.AcquireXactLock(ctx, r.db, bucket.LockKey()); err != nil {
		return fmt.Errorf("failed to lock bucket: %w", err)
	}
	return nil
}

// IncrementCounter advances the bucket counter and returns the new value.
// A missing row is created holding start.
func (r *PgCounterRepository) IncrementCounter(ctx context.Context, bucket sequence.Bucket, start, increment int64) (int64, error) {
	query := `
		INSERT INTO sequence_counters (
			tenant_id, category_kind, category_value, window_key, value, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tenant_id, category_kind, category_value, window_key)
		DO UPDATE SET value = sequence_counters.value + $6, updated_at = NOW()
		RETURNING value`

	var value int64
	err := r.db.QueryRow(ctx, query,
		bucket.TenantID, bucket.CategoryKind, bucket.CategoryValue, bucket.Window.Key(),
		start, increment,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence counter: %w", err)
	}
	return value, nil
}

// RaiseCounter lifts the bucket counter to at least floor.
func (r *PgCounterRepository) RaiseCounter(ctx context.Context, bucket sequence.Bucket, floor int64) error {
	query := `
		INSERT INTO sequence_counters (
			tenant_id, category_kind, category_value, window_key, value, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tenant_id, category_kind, category_value, window_key)
		DO UPDATE SET value = GREATEST(sequence_counters.value, EXCLUDED.value), updated_at = NOW()`

	_, err := r.db.Exec(ctx, query,
		bucket.TenantID, bucket.CategoryKind, bucket.CategoryValue, bucket.Window.Key(), floor,
	)
	if err != nil {
		return fmt.Errorf("failed to raise sequence counter: %w", err)
	}
	return nil
}
