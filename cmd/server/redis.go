package main

import (
	"context"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tillpoint/cmd/server/config"
	"tillpoint/internal/adapters/rest"
	"tillpoint/internal/idempotency"
)

// idemAdapter keeps a disabled store as a nil interface rather than a
// non-nil interface holding a nil pointer.
func idemAdapter(s *idempotency.RedisStore) rest.IdempotencyStore {
	if s == nil {
		return nil
	}
	return s
}

// buildIdempotencyStore wires the Redis-backed idempotency store. Returns a
// nil store when REDIS_URL is unset; checkout then runs without boundary
// idempotency.
func buildIdempotencyStore(ctx context.Context, logger *zap.Logger) (*idempotency.RedisStore, func(), error) {
	cleanup := func() {}

	cfg, err := config.LoadRedis()
	if err != nil {
		return nil, cleanup, err
	}
	if !cfg.Enabled {
		logger.Info("no REDIS_URL set, checkout idempotency disabled")
		return nil, cleanup, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, cleanup, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, cleanup, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, cleanup, err
		}
	}

	pingCtx := ctx
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, cleanup, err
	}

	cleanup = func() {
		if err := client.Close(); err != nil {
			logger.Error("close redis", zap.Error(err))
		}
	}
	logger.Info("redis idempotency store enabled")
	return idempotency.NewRedisStore(client, cfg.IdempotencyTTL), cleanup, nil
}
