package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractionJob_ParseConfig(t *testing.T) {
	job := &ExtractionJob{
		Config: JSON{
			"enabled_types":    []any{"company", "person"},
			"linking_strategy": "vector_similarity",
			"min_confidence":   0.5,
		},
	}

	cfg, err := job.ParseConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"company", "person"}, cfg.EnabledTypes)
	assert.Equal(t, "vector_similarity", cfg.LinkingStrategy)
	require.NotNil(t, cfg.MinConfidence)
	assert.Equal(t, 0.5, *cfg.MinConfidence)
	assert.Nil(t, cfg.ReviewThreshold)
}

func TestExtractionJob_ParseConfig_Empty(t *testing.T) {
	cfg, err := (&ExtractionJob{}).ParseConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.EnabledTypes)
	assert.Nil(t, cfg.MinConfidence)
}

func TestExtractionJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{JobStatusQueued, false},
		{JobStatusRunning, false},
		{JobStatusCompleted, true},
		{JobStatusRequiresReview, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			job := &ExtractionJob{Status: tt.status}
			assert.Equal(t, tt.want, job.IsTerminal())
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	var scanned JSON
	require.NoError(t, scanned.Scan([]byte(`{"a": 1, "b": "x"}`)))
	assert.Equal(t, "x", scanned["b"])

	v, err := scanned.Value()
	require.NoError(t, err)
	assert.NotNil(t, v)

	var empty JSON
	require.NoError(t, empty.Scan(nil))
	assert.Nil(t, empty)
}
