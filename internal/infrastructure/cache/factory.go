package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/faithflows/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to the configured server and pings it. It returns
// a nil client when Redis is not configured.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewIdempotencyStore returns a Redis-backed store when client is set and an
// in-memory one otherwise
func NewIdempotencyStore(client *redis.Client, logger *zap.Logger) shared.IdempotencyStore {
	if client != nil {
		logger.Info("using Redis idempotency store")
		return NewRedisIdempotencyStore(client, "")
	}
	logger.Warn("Redis not configured, using in-memory idempotency store. " +
		"Notifications may repeat across instances.")
	return NewInMemoryIdempotencyStore()
}
