package registry

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"

	"github.com/cortexa-labs/ragserver/internal/config"
)

// Module provides the Mongo connection and the read-only catalog
var Module = fx.Module("registry",
	fx.Provide(NewMongo, NewRegistry),
)

// NewMongo connects to the catalog database
func NewMongo(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*mongo.Database, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx, nil); err != nil {
				log.Warn("mongo unreachable at startup", "error", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("closing mongo connection")
			return client.Disconnect(ctx)
		},
	})

	return client.Database(cfg.Mongo.Database), nil
}
