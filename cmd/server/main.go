// Package main provides the entry point for the graphmill API server.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/graphmill/graphmill/domain/extraction"
	"github.com/graphmill/graphmill/domain/graph"
	"github.com/graphmill/graphmill/domain/schemas"
	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/internal/database"
	"github.com/graphmill/graphmill/internal/server"
	"github.com/graphmill/graphmill/pkg/embeddings"
	"github.com/graphmill/graphmill/pkg/llm"
	"github.com/graphmill/graphmill/pkg/logger"
)

func main() {
	// Load .env files if present (for local development).
	// Load() won't overwrite existing vars, Overload() will.
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		server.Module,

		// Shared clients
		embeddings.Module,
		llm.Module,

		// Domain modules
		schemas.Module,
		graph.Module,
		extraction.Module,
	).Run()
}
