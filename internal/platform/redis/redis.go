package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"askdoc/internal/config"
	applog "askdoc/internal/platform/log"
)

// New connects to the history cache redis and pings it within the dial timeout.
func New(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := options(cfg)
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	applog.Info("redis connected", "addr", cfg.Addr, "db", cfg.DB, "pool_size", opts.PoolSize)
	return client, nil
}

func options(cfg config.RedisConfig) *redis.Options {
	dial := millis(cfg.DialTimeoutMillis, 3*time.Second)
	rw := millis(cfg.IOTimeoutMillis, 2*time.Second)
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  dial,
		ReadTimeout:  rw,
		WriteTimeout: rw,
	}
}

func millis(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}
