// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"

	"github.com/graphmill/graphmill/pkg/logger"
)

// Module provides the parsed configuration.
var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config is the root application configuration.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	LLM          LLMConfig
	Embeddings   EmbeddingsConfig
	Extraction   ExtractionConfig
	Embedding    EmbeddingQueueConfig
	NLI          NLIConfig
	Linker       LinkerConfig
	Quality      QualityConfig
	Verification VerificationConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	Debug           bool          `env:"SERVER_DEBUG" envDefault:"false"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host         string        `env:"DB_HOST" envDefault:"localhost"`
	Port         int           `env:"DB_PORT" envDefault:"5432"`
	User         string        `env:"DB_USER" envDefault:"postgres"`
	Password     string        `env:"DB_PASSWORD" envDefault:"postgres"`
	Database     string        `env:"DB_NAME" envDefault:"graphmill"`
	SSLMode      string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
	RunMigrations bool         `env:"DB_RUN_MIGRATIONS" envDefault:"true"`
}

// DSN builds a PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// LLMConfig holds Vertex AI Gemini settings.
type LLMConfig struct {
	GCPProjectID     string        `env:"GCP_PROJECT_ID"`
	VertexAILocation string        `env:"VERTEX_AI_LOCATION" envDefault:"us-central1"`
	Model            string        `env:"LLM_MODEL" envDefault:"gemini-2.0-flash"`
	JudgeModel       string        `env:"LLM_JUDGE_MODEL" envDefault:"gemini-2.0-flash"`
	MaxOutputTokens  int           `env:"LLM_MAX_OUTPUT_TOKENS" envDefault:"8192"`
	Timeout          time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
	RateLimitRPM     int           `env:"LLM_RATE_LIMIT_RPM" envDefault:"60"`
	RateLimitTPM     int           `env:"LLM_RATE_LIMIT_TPM" envDefault:"200000"`
}

// IsEnabled reports whether LLM calls can be made.
func (c *LLMConfig) IsEnabled() bool {
	return c.GCPProjectID != "" && c.VertexAILocation != "" && c.Model != ""
}

// EmbeddingsConfig holds Vertex AI embeddings settings.
type EmbeddingsConfig struct {
	GCPProjectID string        `env:"EMBEDDINGS_GCP_PROJECT_ID"`
	Location     string        `env:"EMBEDDINGS_LOCATION" envDefault:"us-central1"`
	Model        string        `env:"EMBEDDINGS_MODEL" envDefault:"text-embedding-004"`
	Timeout      time.Duration `env:"EMBEDDINGS_TIMEOUT" envDefault:"30s"`
}

// IsEnabled reports whether embedding generation is configured.
func (c *EmbeddingsConfig) IsEnabled() bool {
	return c.GCPProjectID != ""
}

// NLIConfig holds the optional natural-language-inference endpoint used by
// the middle verification tier. Unset endpoint disables the tier.
type NLIConfig struct {
	Endpoint string        `env:"NLI_ENDPOINT"`
	Timeout  time.Duration `env:"NLI_TIMEOUT" envDefault:"10s"`
}

// IsEnabled reports whether entailment checks can be made.
func (c *NLIConfig) IsEnabled() bool {
	return c.Endpoint != ""
}

// ExtractionConfig holds extraction worker/queue settings.
type ExtractionConfig struct {
	BatchSize         int `env:"EXTRACTION_BATCH_SIZE" envDefault:"5"`
	PollIntervalMs    int `env:"EXTRACTION_POLL_INTERVAL_MS" envDefault:"5000"`
	MaxRetries        int `env:"EXTRACTION_MAX_RETRIES" envDefault:"3"`
	StaleAfterMinutes int `env:"EXTRACTION_STALE_AFTER_MINUTES" envDefault:"30"`
	BaseRetryDelaySec int `env:"EXTRACTION_BASE_RETRY_DELAY_SEC" envDefault:"60"`
	MaxRetryDelaySec  int `env:"EXTRACTION_MAX_RETRY_DELAY_SEC" envDefault:"3600"`
}

// EmbeddingQueueConfig holds embedding worker/queue settings.
type EmbeddingQueueConfig struct {
	BatchSize         int `env:"EMBEDDING_BATCH_SIZE" envDefault:"10"`
	PollIntervalMs    int `env:"EMBEDDING_POLL_INTERVAL_MS" envDefault:"5000"`
	MaxRetries        int `env:"EMBEDDING_MAX_RETRIES" envDefault:"5"`
	StaleAfterMinutes int `env:"EMBEDDING_STALE_AFTER_MINUTES" envDefault:"10"`
	BaseRetryDelaySec int `env:"EMBEDDING_BASE_RETRY_DELAY_SEC" envDefault:"60"`
	MaxRetryDelaySec  int `env:"EMBEDDING_MAX_RETRY_DELAY_SEC" envDefault:"3600"`
}

// LinkerConfig holds entity-linking settings.
type LinkerConfig struct {
	// Strategy is one of always_new, key_match, vector_similarity.
	Strategy            string  `env:"ENTITY_LINKING_STRATEGY" envDefault:"key_match"`
	SimilarityThreshold float64 `env:"SIMILARITY_THRESHOLD" envDefault:"0.85"`
	MaxCandidates       int     `env:"MAX_CANDIDATES" envDefault:"5"`
}

// QualityConfig holds quality-gate decision bands.
type QualityConfig struct {
	MinConfidence       float64 `env:"MIN_CONFIDENCE" envDefault:"0.0"`
	ReviewThreshold     float64 `env:"REVIEW_THRESHOLD" envDefault:"0.7"`
	AutoCreateThreshold float64 `env:"AUTO_CREATE_THRESHOLD" envDefault:"0.85"`
}

// VerificationConfig holds verification-cascade thresholds.
type VerificationConfig struct {
	ExactThreshold       float64 `env:"VERIFICATION_EXACT_THRESHOLD" envDefault:"0.95"`
	EntailmentThreshold  float64 `env:"VERIFICATION_ENTAILMENT_THRESHOLD" envDefault:"0.9"`
	UncertaintyLow       float64 `env:"VERIFICATION_UNCERTAINTY_LOW" envDefault:"0.4"`
	UncertaintyHigh      float64 `env:"VERIFICATION_UNCERTAINTY_HIGH" envDefault:"0.6"`
	MaxPropertiesVerified int    `env:"MAX_PROPERTIES_VERIFIED" envDefault:"20"`
}

// NewConfig parses configuration from the environment.
func NewConfig(log *slog.Logger) (*Config, error) {
	log = log.With(logger.Scope("config"))

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("db_host", cfg.Database.Host),
		slog.String("linking_strategy", cfg.Linker.Strategy),
		slog.Bool("llm_enabled", cfg.LLM.IsEnabled()),
		slog.Bool("embeddings_enabled", cfg.Embeddings.IsEnabled()),
	)

	return cfg, nil
}
