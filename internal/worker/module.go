package worker

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/cortexa-labs/ragserver/domain/rag"
	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/internal/queue"
)

// Module runs the claim loop as an fx lifecycle component
var Module = fx.Module("worker",
	fx.Provide(func(q *queue.Client, svc *rag.Service, cfg *config.Config, log *slog.Logger) *Worker {
		return New(q, svc, cfg, log)
	}),
	fx.Invoke(func(lc fx.Lifecycle, w *Worker) {
		lc.Append(fx.Hook{
			OnStart: w.Start,
			OnStop:  w.Stop,
		})
	}),
)
