// internal/common/database/redis.go
package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"mailmerge-workers/internal/common/config"
	apperrors "mailmerge-workers/internal/common/errors"
)

// RedisClient backs the template cache, the QR image cache and the ledger dedup set.
// Runs are serialized, so a small pool is enough.
type RedisClient struct {
	Client *redis.Client
}

func NewRedis(cfg config.RedisConfig) *RedisClient {
	return &RedisClient{Client: redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
		MinIdleConns: 1,
	})}
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return apperrors.NewExternalServiceError("redis", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}
