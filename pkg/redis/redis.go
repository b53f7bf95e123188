package redis

import (
	"context"
	"time"

	"task-execution-service/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

// New builds the process-wide client. go-redis dials lazily, so constructing
// it never blocks on the server; callers verify reachability with WaitReady.
func New(lc fx.Lifecycle, c *config.Config) *redis.Client {
	rdb := redis.NewClient(Options(c))

	zap.L().Info("[Redis] Client configured",
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
		zap.Int("pool_size", c.Redis.PoolSize),
		zap.Duration("pool_timeout", c.Redis.PoolTimeout),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb
}

func Options(c *config.Config) *redis.Options {
	return &redis.Options{
		Addr:         c.Redis.Addr,
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		PoolSize:     c.Redis.PoolSize,
		PoolTimeout:  c.Redis.PoolTimeout,
		DialTimeout:  c.Redis.OpTimeout,
		ReadTimeout:  c.Redis.OpTimeout,
		WriteTimeout: c.Redis.OpTimeout,
	}
}

// WaitReady pings until the server answers, sleeping backoff between at most
// attempts tries. It returns the last ping error when every attempt failed.
func WaitReady(ctx context.Context, ping func(ctx context.Context) error, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = ping(ctx); err == nil {
			return nil
		}

		zap.L().Warn("[Redis] Redis not ready",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)

		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
