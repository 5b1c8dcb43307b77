package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog"

	"github.com/helixir/records-service/internal/config"
	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/observability"
)

const redisKeyPrefix = "records:bucket:"

// Redis is a Locker backed by redislock, shared by every replica pointed at
// the same Redis.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	retry   time.Duration
	retries int
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewRedis creates a Redis locker on client.
func NewRedis(client redislock.RedisClient, cfg config.LockingConfig, logger zerolog.Logger, metrics *observability.Metrics) *Redis {
	return &Redis{
		client:  redislock.New(client),
		ttl:     cfg.TTL,
		retry:   cfg.RetryInterval,
		retries: cfg.RetryCount,
		logger:  logger.With().Str("component", "redis_locker").Logger(),
		metrics: metrics,
	}
}

// Acquire obtains the lock, retrying with linear backoff.
func (r *Redis) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	started := time.Now()

	lock, err := r.client.Obtain(ctx, redisKeyPrefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.retry), r.retries),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: %s", domain.ErrLockNotObtained, key)
		}
		return nil, fmt.Errorf("failed to obtain bucket lock: %w", err)
	}
	r.metrics.RecordLockWait("redis", time.Since(started).Seconds())

	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("bucket lock expired before release")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to release bucket lock: %w", err)
		}
		return nil
	}, nil
}
