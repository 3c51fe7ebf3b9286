package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/pkg/logger"
)

// HTTPEntailmentChecker calls an external NLI endpoint. The endpoint takes
// {premise, hypothesis} and returns {entailment, contradiction, neutral}
// probabilities.
type HTTPEntailmentChecker struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger
}

// NewEntailmentChecker selects the HTTP checker or the noop fallback from
// configuration.
func NewEntailmentChecker(cfg *config.Config, log *slog.Logger) EntailmentChecker {
	if !cfg.NLI.IsEnabled() {
		return NoopEntailmentChecker{}
	}
	return &HTTPEntailmentChecker{
		endpoint: cfg.NLI.Endpoint,
		client:   &http.Client{Timeout: cfg.NLI.Timeout},
		log:      log.With(logger.Scope("nli")),
	}
}

func (c *HTTPEntailmentChecker) IsAvailable() bool { return true }

func (c *HTTPEntailmentChecker) Predict(ctx context.Context, premise, hypothesis string) (*EntailmentScores, error) {
	payload, err := json.Marshal(map[string]string{
		"premise":    premise,
		"hypothesis": hypothesis,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nli request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nli endpoint returned status %d", resp.StatusCode)
	}

	scores := &EntailmentScores{}
	if err := json.NewDecoder(resp.Body).Decode(scores); err != nil {
		return nil, fmt.Errorf("decode nli response: %w", err)
	}
	return scores, nil
}
