package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/domain/schemas"
)

func TestBuildExtractionPrompt(t *testing.T) {
	schema := &schemas.ObjectSchema{
		Properties: map[string]schemas.PropertyDef{
			"name":     {Type: "string", Description: "Full legal name"},
			"industry": {Type: "string"},
		},
		Required: []string{"name"},
	}
	relSchemas := map[string]schemas.RelationshipSchema{
		"works_at": {Description: "Employment of a person at a company"},
	}

	prompt := BuildExtractionPrompt("company", schema, relSchemas, "Acme Corp hired Ruth.")

	assert.Contains(t, prompt, "Extract every company")
	assert.Contains(t, prompt, "- name (string) (required): Full legal name")
	assert.Contains(t, prompt, "- industry (string)")
	assert.Contains(t, prompt, "- works_at: Employment of a person at a company")
	assert.Contains(t, prompt, "Acme Corp hired Ruth.")
	assert.Contains(t, prompt, "temp_id")
}

func TestParseExtractionResponse_Direct(t *testing.T) {
	raw := `{
		"objects": [
			{"temp_id": "t1", "properties": {"name": "Acme"}, "confidence": 0.9},
			{"temp_id": "t2", "properties": {"name": "Zenith"}, "confidence": 1.7}
		],
		"relationships": [
			{"type": "competes_with", "source_temp_id": "t1", "target_temp_id": "t2", "confidence": 0.8}
		]
	}`

	result, err := ParseExtractionResponse(raw, "company")
	require.NoError(t, err)
	require.Len(t, result.Objects, 2)

	assert.Equal(t, "company", result.Objects[0].Type, "type comes from the request, not the model")
	assert.Equal(t, 1.0, result.Objects[1].Confidence, "confidence is clamped to [0,1]")
	require.Len(t, result.Relationships, 1)
}

func TestParseExtractionResponse_FencedPayload(t *testing.T) {
	raw := "Here is the result:\n```json\n" +
		`{"objects": [{"temp_id": "t1", "properties": {"name": "Acme"}, "confidence": 0.9}]}` +
		"\n```"

	result, err := ParseExtractionResponse(raw, "company")
	require.NoError(t, err)
	require.Len(t, result.Objects, 1)
	assert.Equal(t, "t1", result.Objects[0].TempID)
}

func TestParseExtractionResponse_FiltersInvalidEntries(t *testing.T) {
	raw := `{
		"objects": [
			{"temp_id": "", "properties": {"name": "no id"}, "confidence": 0.9},
			{"temp_id": "t1", "properties": {}, "confidence": 0.9},
			{"temp_id": "t2", "properties": {"name": "Acme"}, "confidence": 0.9}
		],
		"relationships": [
			{"type": "", "source_temp_id": "t1", "target_temp_id": "t2", "confidence": 0.9},
			{"type": "competes_with", "source_temp_id": "", "target_temp_id": "t2", "confidence": 0.9}
		]
	}`

	result, err := ParseExtractionResponse(raw, "company")
	require.NoError(t, err)
	assert.Len(t, result.Objects, 1)
	assert.Empty(t, result.Relationships)
}

func TestParseExtractionResponse_Unparsable(t *testing.T) {
	_, err := ParseExtractionResponse("the model refused to answer", "company")
	assert.Error(t, err)
}

func TestOrphanRelationshipRate(t *testing.T) {
	result := &ExtractionResult{
		Objects: []CandidateObject{
			{TempID: "t1"},
			{TempID: "t2"},
		},
		Relationships: []CandidateRelationship{
			{Type: "a", SourceTempID: "t1", TargetTempID: "t2"},
			{Type: "b", SourceTempID: "t1", TargetTempID: "t9"},
			{Type: "c", SourceTempID: "t8", TargetTempID: "t9"},
			{Type: "d", SourceTempID: "t2", TargetTempID: "t1"},
		},
	}

	assert.InDelta(t, 0.5, OrphanRelationshipRate(result), 1e-9)
	assert.Equal(t, 0.0, OrphanRelationshipRate(&ExtractionResult{}))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean object", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"leading prose", `Sure! {"a": 1}`, `{"a": 1}`},
		{"array payload", `noise [1, 2] trailing`, `[1, 2]`},
		{"no json at all", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}
