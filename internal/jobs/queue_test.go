package jobs

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 60 * time.Second},
		{2, 240 * time.Second},
		{3, 540 * time.Second},
		{4, 960 * time.Second},
		{7, 2940 * time.Second},
		{8, 3600 * time.Second},
		{20, 3600 * time.Second},
		{0, 60 * time.Second}, // clamped to first attempt
	}

	for _, tt := range tests {
		got := RetryDelay(tt.attempt, 60, 3600)
		assert.Equal(t, tt.want, got, "attempt %d", tt.attempt)
	}
}

func TestTruncateError(t *testing.T) {
	short := "boom"
	assert.Equal(t, short, TruncateError(short))

	long := strings.Repeat("x", 2000)
	assert.Len(t, TruncateError(long), 1000)
}

func TestQueueConfigDefaults(t *testing.T) {
	cfg := QueueConfig{TableName: "kg.embedding_jobs"}
	cfg.applyDefaults()

	assert.Equal(t, "pending", cfg.PendingStatus)
	assert.Equal(t, "processing", cfg.ProcessingStatus)
	assert.Equal(t, "failed", cfg.TerminalFailedStatus)
	assert.Equal(t, "attempt_count", cfg.AttemptColumn)
	assert.Equal(t, 60, cfg.BaseRetryDelaySec)
	assert.Equal(t, 3600, cfg.MaxRetryDelaySec)
	assert.Equal(t, 10, cfg.BatchSize)
}
