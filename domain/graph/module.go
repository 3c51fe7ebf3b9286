package graph

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/graphmill/graphmill/domain/schemas"
	"github.com/graphmill/graphmill/pkg/embeddings"
)

// Module provides graph domain dependencies.
var Module = fx.Module("graph",
	fx.Provide(NewRepository),
	fx.Provide(provideService),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

func provideService(repo *Repository, provider schemas.Provider, emb *embeddings.Service, log *slog.Logger) *Service {
	return NewService(repo, provider, emb, log)
}
