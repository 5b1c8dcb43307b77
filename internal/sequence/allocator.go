package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/observability"
)

// Strategy names.
const (
	StrategyCounter = "counter"
	StrategyHistory = "history"
)

// Source is the transaction-scoped store view an allocator reads from.
// LockBucket must block until the caller holds the bucket exclusively for
// the remainder of its unit of work.
type Source interface {
	// LockBucket serializes allocations for the bucket until the unit of work ends.
	LockBucket(ctx context.Context, bucket Bucket) error

	// FindLatestInBucket returns the most recently classified document matching
	// the predicate, or nil when the bucket is empty.
	FindLatestInBucket(ctx context.Context, p BucketPredicate) (*domain.Document, error)

	// IncrementCounter atomically advances the bucket counter and returns the
	// new value. A missing counter is created holding start.
	IncrementCounter(ctx context.Context, bucket Bucket, start, increment int64) (int64, error)

	// RaiseCounter lifts the bucket counter to at least floor, creating it if needed.
	RaiseCounter(ctx context.Context, bucket Bucket, floor int64) error
}

// Request describes one sequence allocation.
type Request struct {
	Bucket Bucket
	// Boundary is true on the first day of the bucket's window.
	Boundary bool

	// Separator and Position locate the sequence segment in previously issued codes.
	Separator string
	Position  int

	PadWidth  int
	Increment int64
	Start     int64

	// Reconcile asks the allocator to resynchronize with issued history,
	// deleted documents included, before allocating. Set when a previous
	// attempt produced a duplicate.
	Reconcile bool
}

// Allocation is the result of a sequence allocation.
type Allocation struct {
	Value     int64
	Formatted string
	// Reset is true when the value restarted at Start because the last issued
	// value belonged to an earlier window.
	Reset bool
}

// Allocator hands out the next sequence value of a bucket.
type Allocator interface {
	// Name returns the strategy name.
	Name() string
	// Next allocates the next value. The caller must persist the resulting
	// control number within the same unit of work as the Source.
	Next(ctx context.Context, src Source, req Request) (Allocation, error)
}

// New returns the allocator for the named strategy.
func New(strategy string, logger zerolog.Logger, metrics *observability.Metrics) (Allocator, error) {
	switch strategy {
	case StrategyCounter, "":
		return NewCounterAllocator(logger, metrics), nil
	case StrategyHistory:
		return NewHistoryAllocator(logger, metrics), nil
	default:
		return nil, fmt.Errorf("unknown allocation strategy %q", strategy)
	}
}

// lastIssued is what the history scan learned about a bucket.
type lastIssued struct {
	Value int64
	Found bool
	// Stale is true when the latest record lies outside the current window.
	Stale bool
}

// history reads and parses the most recently issued value of the bucket.
// Corrupt codes are logged and reported as an empty bucket.
type history struct {
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func (h history) read(ctx context.Context, src Source, req Request) (lastIssued, error) {
	p := req.Bucket.Predicate()
	if req.Reconcile {
		// Deleted documents keep their control numbers.
		p.ExcludeDeleted = false
	}
	latest, err := src.FindLatestInBucket(ctx, p)
	if err != nil {
		return lastIssued{}, fmt.Errorf("find latest in bucket: %w", err)
	}
	if latest == nil || latest.ControlNumber == nil {
		return lastIssued{}, nil
	}

	if latest.DateClassified != nil && !req.Bucket.Window.Contains(*latest.DateClassified) {
		h.logger.Info().
			Str("bucket", req.Bucket.Key()).
			Bool("boundary", req.Boundary).
			Time("last_classified", *latest.DateClassified).
			Msg("sequence window rolled over")
		return lastIssued{Stale: true}, nil
	}

	value, err := ParseSegment(*latest.ControlNumber, req.Separator, req.Position)
	if err != nil {
		h.metrics.RecordCorruptHistory()
		h.logger.Warn().
			Err(err).
			Str("bucket", req.Bucket.Key()).
			Str("document_id", latest.ID.String()).
			Str("control_number", *latest.ControlNumber).
			Int("position", req.Position).
			Msg("unparseable sequence segment in bucket history, restarting at default")
		return lastIssued{}, nil
	}
	return lastIssued{Value: value, Found: true}, nil
}

// lockBucket takes the bucket lock and records the wait.
func lockBucket(ctx context.Context, src Source, bucket Bucket, metrics *observability.Metrics) error {
	started := time.Now()
	err := src.LockBucket(ctx, bucket)
	metrics.RecordLockWait("store", time.Since(started).Seconds())
	if err != nil {
		return fmt.Errorf("lock bucket %s: %w", bucket.Key(), err)
	}
	return nil
}

func validateRequest(req Request) error {
	if req.PadWidth < 1 {
		return errors.New("pad width must be at least 1")
	}
	if req.Increment < 1 {
		return errors.New("increment must be at least 1")
	}
	if req.Start < 0 {
		return errors.New("start must not be negative")
	}
	return nil
}

// HistoryAllocator derives the next value from the most recently issued
// control number in the bucket.
type HistoryAllocator struct {
	history history
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Compile-time interface verification.
var _ Allocator = (*HistoryAllocator)(nil)

// NewHistoryAllocator creates a history-scan allocator.
func NewHistoryAllocator(logger zerolog.Logger, metrics *observability.Metrics) *HistoryAllocator {
	logger = logger.With().Str("component", "allocator").Str("strategy", StrategyHistory).Logger()
	return &HistoryAllocator{
		history: history{logger: logger, metrics: metrics},
		logger:  logger,
		metrics: metrics,
	}
}

// Name implements Allocator.
func (a *HistoryAllocator) Name() string { return StrategyHistory }

// Next implements Allocator.
func (a *HistoryAllocator) Next(ctx context.Context, src Source, req Request) (Allocation, error) {
	if err := validateRequest(req); err != nil {
		return Allocation{}, err
	}
	if err := lockBucket(ctx, src, req.Bucket, a.metrics); err != nil {
		return Allocation{}, err
	}

	last, err := a.history.read(ctx, src, req)
	if err != nil {
		return Allocation{}, err
	}

	alloc := Allocation{Value: req.Start, Reset: last.Stale}
	if last.Found {
		alloc.Value = last.Value + req.Increment
	}
	alloc.Formatted = Format(alloc.Value, req.PadWidth)

	a.metrics.RecordAllocation(StrategyHistory, alloc.Reset)
	a.logger.Debug().
		Str("bucket", req.Bucket.Key()).
		Int64("value", alloc.Value).
		Msg("sequence value allocated")
	return alloc, nil
}

// CounterAllocator increments a dedicated per-bucket counter record.
type CounterAllocator struct {
	history history
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Compile-time interface verification.
var _ Allocator = (*CounterAllocator)(nil)

// NewCounterAllocator creates a counter-record allocator.
func NewCounterAllocator(logger zerolog.Logger, metrics *observability.Metrics) *CounterAllocator {
	logger = logger.With().Str("component", "allocator").Str("strategy", StrategyCounter).Logger()
	return &CounterAllocator{
		history: history{logger: logger, metrics: metrics},
		logger:  logger,
		metrics: metrics,
	}
}

// Name implements Allocator.
func (a *CounterAllocator) Name() string { return StrategyCounter }

// Next implements Allocator. Each window has its own counter row, so the
// first allocation of a window starts at req.Start.
func (a *CounterAllocator) Next(ctx context.Context, src Source, req Request) (Allocation, error) {
	if err := validateRequest(req); err != nil {
		return Allocation{}, err
	}
	if err := lockBucket(ctx, src, req.Bucket, a.metrics); err != nil {
		return Allocation{}, err
	}

	if req.Reconcile {
		last, err := a.history.read(ctx, src, req)
		if err != nil {
			return Allocation{}, err
		}
		if last.Found {
			if err := src.RaiseCounter(ctx, req.Bucket, last.Value); err != nil {
				return Allocation{}, fmt.Errorf("reconcile counter: %w", err)
			}
			a.logger.Warn().
				Str("bucket", req.Bucket.Key()).
				Int64("floor", last.Value).
				Msg("sequence counter reconciled with issued history")
		}
	}

	value, err := src.IncrementCounter(ctx, req.Bucket, req.Start, req.Increment)
	if err != nil {
		return Allocation{}, fmt.Errorf("increment counter: %w", err)
	}

	alloc := Allocation{
		Value:     value,
		Formatted: Format(value, req.PadWidth),
		Reset:     value == req.Start && req.Bucket.Window.Bounded(),
	}
	a.metrics.RecordAllocation(StrategyCounter, alloc.Reset)
	a.logger.Debug().
		Str("bucket", req.Bucket.Key()).
		Int64("value", value).
		Msg("sequence value allocated")
	return alloc, nil
}
