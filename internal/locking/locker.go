// Package locking provides the bucket locks that serialize control-number
// allocation across processes.
//
// The allocation transaction also takes a PostgreSQL advisory lock per
// bucket. A Locker is taken before the transaction begins, so waiting
// requests do not hold pool connections.
package locking

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helixir/records-service/internal/config"
	"github.com/helixir/records-service/internal/observability"
)

// Locker hands out exclusive locks by key. The returned release func must be
// called once the protected work has committed or failed.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// FromConfig builds the locker selected by cfg.Backend. It returns a nil
// Locker for the "none" backend. The close func releases the backend's
// resources and is never nil.
func FromConfig(
	ctx context.Context,
	cfg config.LockingConfig,
	redisCfg config.RedisConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) (Locker, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.LockingNone, "":
		return nil, noop, nil
	case config.LockingLocal:
		return NewLocal(metrics), noop, nil
	case config.LockingRedis:
		client, err := OpenRedis(ctx, redisCfg)
		if err != nil {
			return nil, noop, err
		}
		return NewRedis(client, cfg, logger, metrics), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown locking backend %q", cfg.Backend)
	}
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
