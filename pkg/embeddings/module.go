package embeddings

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/pkg/embeddings/vertex"
	"github.com/graphmill/graphmill/pkg/logger"
)

// Module provides the embeddings service.
var Module = fx.Module("embeddings",
	fx.Provide(NewService),
)

// Service wraps the configured embedding client. When embeddings are not
// configured the noop client is used and callers see nil vectors.
type Service struct {
	client  Client
	enabled bool
	log     *slog.Logger
}

// NewService selects the embedding client from configuration at startup.
func NewService(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) *Service {
	log = log.With(logger.Scope("embeddings"))

	s := &Service{
		client: NewNoopClient(),
		log:    log,
	}

	if !cfg.Embeddings.IsEnabled() {
		log.Warn("embeddings not configured, using noop client")
		return s
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			client, err := vertex.NewClient(ctx, vertex.Config{
				ProjectID: cfg.Embeddings.GCPProjectID,
				Location:  cfg.Embeddings.Location,
				Model:     cfg.Embeddings.Model,
				Timeout:   cfg.Embeddings.Timeout,
			}, log)
			if err != nil {
				return err
			}
			s.client = client
			s.enabled = true
			log.Info("vertex embeddings client ready",
				slog.String("model", cfg.Embeddings.Model),
			)
			return nil
		},
	})

	return s
}

// IsEnabled reports whether a real embedding provider is active.
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// EmbedQuery generates an embedding for a single text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.client.EmbedQuery(ctx, text)
}

// EmbedDocuments generates embeddings for multiple texts.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return s.client.EmbedDocuments(ctx, texts)
}
