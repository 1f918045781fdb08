package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/config"
	"github.com/ekaya-inc/ekaya-connect/pkg/retry"
)

// NewRedisClient creates a Redis client and waits until it answers a ping.
// Returns nil without error when Redis is not configured (empty host); callers then skip caching.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.ResolveHostForDocker(cfg.Host), cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := retry.Do(ctx, retry.StartupConfig(), func() error {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not reachable yet, retrying", zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
