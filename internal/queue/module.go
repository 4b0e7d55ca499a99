package queue

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/cortexa-labs/ragserver/internal/config"
)

// Module provides the Redis connection and the queue client.
// One lazily-probed connection pool per process; availability state is
// tracked by the client, so a down Redis never fails startup.
var Module = fx.Module("queue",
	fx.Provide(NewRedis, NewClient),
)

// NewRedis creates the process-wide Redis client
func NewRedis(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing redis connection")
			return rdb.Close()
		},
	})

	return rdb
}
