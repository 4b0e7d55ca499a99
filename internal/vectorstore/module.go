package vectorstore

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/cortexa-labs/ragserver/pkg/logger"
)

// Module provides the Qdrant store and ensures the collection exists on
// start. A down Qdrant logs a warning rather than failing startup; requests
// that need it report the dependency as unavailable instead.
var Module = fx.Module("vectorstore",
	fx.Provide(NewStore),
	fx.Invoke(func(lc fx.Lifecycle, s *Store, log *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := s.EnsureCollection(ctx); err != nil {
					log.Warn("qdrant unavailable at startup", logger.Error(err))
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return s.Close()
			},
		})
	}),
)
