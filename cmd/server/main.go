// Package main provides the entry point for the RAG API server
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/cortexa-labs/ragserver/domain/health"
	"github.com/cortexa-labs/ragserver/domain/rag"
	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/internal/embedding"
	"github.com/cortexa-labs/ragserver/internal/llm"
	"github.com/cortexa-labs/ragserver/internal/queue"
	"github.com/cortexa-labs/ragserver/internal/registry"
	"github.com/cortexa-labs/ragserver/internal/server"
	"github.com/cortexa-labs/ragserver/internal/vectorstore"
	"github.com/cortexa-labs/ragserver/pkg/auth"
	"github.com/cortexa-labs/ragserver/pkg/logger"
)

func main() {
	// Load .env if present (for local development); existing vars win
	_ = godotenv.Load()

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		server.Module,

		// Auth module
		auth.Module,

		// External dependencies
		queue.Module,
		registry.Module,
		vectorstore.Module,
		embedding.Module,
		llm.Module,

		// Domain modules
		health.Module,
		rag.Module,
	).Run()
}
