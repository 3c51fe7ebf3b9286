// Package llm provides a Vertex AI Gemini client for structured generation.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/pkg/apperror"
	"github.com/graphmill/graphmill/pkg/logger"
)

// Module provides the LLM generator.
var Module = fx.Module("llm",
	fx.Provide(NewGenerator),
)

// Generator is the capability interface for LLM calls. The disabled
// implementation is selected at startup when no GCP project is configured.
type Generator interface {
	// GenerateJSON runs a prompt with temperature 0 and a response schema,
	// returning the raw JSON text.
	GenerateJSON(ctx context.Context, model, prompt string, schema *genai.Schema) (string, error)

	// GenerateText runs a plain prompt and returns the response text.
	GenerateText(ctx context.Context, model, prompt string) (string, error)

	// IsEnabled reports whether real LLM calls can be made.
	IsEnabled() bool

	// DefaultModel returns the configured default model name.
	DefaultModel() string
}

// NewGenerator selects the real or disabled generator from configuration.
func NewGenerator(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) Generator {
	log = log.With(logger.Scope("llm"))

	if !cfg.LLM.IsEnabled() {
		log.Warn("LLM not configured, generation disabled")
		return &disabledGenerator{}
	}

	g := &geminiGenerator{
		cfg: &cfg.LLM,
		log: log,
		// Requests-per-minute and tokens-per-minute buckets. Token costs are
		// estimated from prompt length; the buckets gate the worker loop, not
		// other workers.
		rpm: rate.NewLimiter(rate.Limit(float64(cfg.LLM.RateLimitRPM)/60.0), cfg.LLM.RateLimitRPM),
		tpm: rate.NewLimiter(rate.Limit(float64(cfg.LLM.RateLimitTPM)/60.0), cfg.LLM.RateLimitTPM),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			client, err := genai.NewClient(ctx, &genai.ClientConfig{
				Backend:  genai.BackendVertexAI,
				Project:  cfg.LLM.GCPProjectID,
				Location: cfg.LLM.VertexAILocation,
			})
			if err != nil {
				return fmt.Errorf("create genai client: %w", err)
			}
			g.client = client
			log.Info("LLM client ready",
				slog.String("model", cfg.LLM.Model),
				slog.String("location", cfg.LLM.VertexAILocation),
			)
			return nil
		},
	})

	return g
}

type geminiGenerator struct {
	cfg    *config.LLMConfig
	client *genai.Client
	log    *slog.Logger
	rpm    *rate.Limiter
	tpm    *rate.Limiter
}

func (g *geminiGenerator) IsEnabled() bool      { return g.client != nil }
func (g *geminiGenerator) DefaultModel() string { return g.cfg.Model }

func (g *geminiGenerator) GenerateJSON(ctx context.Context, model, prompt string, schema *genai.Schema) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature:      ptrFloat32(0.0),
		MaxOutputTokens:  int32(g.cfg.MaxOutputTokens),
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
	return g.generate(ctx, model, prompt, genCfg)
}

func (g *geminiGenerator) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature:     ptrFloat32(0.0),
		MaxOutputTokens: int32(g.cfg.MaxOutputTokens),
	}
	return g.generate(ctx, model, prompt, genCfg)
}

func (g *geminiGenerator) generate(ctx context.Context, model, prompt string, genCfg *genai.GenerateContentConfig) (string, error) {
	if g.client == nil {
		return "", apperror.ErrUnavailable.WithMessage("LLM client not initialized")
	}
	if model == "" {
		model = g.cfg.Model
	}

	if err := g.acquire(ctx, prompt); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(callCtx, model, genai.Text(prompt), genCfg)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", apperror.ErrTimeout.WithInternal(err)
		}
		return "", apperror.ErrUnavailable.WithMessage("LLM call failed").WithInternal(err)
	}

	text := resp.Text()
	if text == "" {
		return "", apperror.ErrUnavailable.WithMessage("LLM returned empty response")
	}
	return text, nil
}

// acquire blocks on the RPM and TPM buckets. Token cost is a rough
// 4-chars-per-token estimate.
func (g *geminiGenerator) acquire(ctx context.Context, prompt string) error {
	if err := g.rpm.Wait(ctx); err != nil {
		return apperror.ErrRateLimited.WithInternal(err)
	}
	tokens := len(prompt)/4 + 1
	if tokens > g.tpm.Burst() {
		tokens = g.tpm.Burst()
	}
	if err := g.tpm.WaitN(ctx, tokens); err != nil {
		return apperror.ErrRateLimited.WithInternal(err)
	}
	return nil
}

type disabledGenerator struct{}

func (d *disabledGenerator) GenerateJSON(ctx context.Context, model, prompt string, schema *genai.Schema) (string, error) {
	return "", apperror.ErrUnavailable.WithMessage("LLM not configured")
}

func (d *disabledGenerator) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	return "", apperror.ErrUnavailable.WithMessage("LLM not configured")
}

func (d *disabledGenerator) IsEnabled() bool      { return false }
func (d *disabledGenerator) DefaultModel() string { return "" }

func ptrFloat32(v float32) *float32 {
	return &v
}
