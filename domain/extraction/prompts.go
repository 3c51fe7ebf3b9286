package extraction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/graphmill/graphmill/domain/schemas"
	"github.com/graphmill/graphmill/pkg/mathutil"
)

// BuildExtractionPrompt renders the extraction instruction for one target
// type. The schema's property descriptions double as extraction hints.
func BuildExtractionPrompt(typeName string, schema *schemas.ObjectSchema, relSchemas map[string]schemas.RelationshipSchema, text string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Extract every %s mentioned in the document below.\n\n", humanizeType(typeName))

	if schema != nil && len(schema.Properties) > 0 {
		b.WriteString("Capture these properties when the document states them:\n")
		names := make([]string, 0, len(schema.Properties))
		for name := range schema.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			def := schema.Properties[name]
			required := ""
			for _, r := range schema.Required {
				if r == name {
					required = " (required)"
					break
				}
			}
			if def.Description != "" {
				fmt.Fprintf(&b, "- %s (%s)%s: %s\n", name, def.Type, required, def.Description)
			} else {
				fmt.Fprintf(&b, "- %s (%s)%s\n", name, def.Type, required)
			}
		}
		b.WriteString("\n")
	}

	if len(relSchemas) > 0 {
		b.WriteString("Also extract relationships between entities, using these types:\n")
		names := make([]string, 0, len(relSchemas))
		for name := range relSchemas {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rs := relSchemas[name]
			if rs.Description != "" {
				fmt.Fprintf(&b, "- %s: %s\n", name, rs.Description)
			} else {
				fmt.Fprintf(&b, "- %s\n", name)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(`Rules:
- Assign each entity a unique temp_id and reference entities by temp_id in relationships.
- Only extract what the document states; never invent values.
- Copy a short verbatim excerpt supporting each entity into its evidence field.
- Report a confidence in [0,1] for every entity and relationship.

Document:
"""
`)
	b.WriteString(text)
	b.WriteString("\n\"\"\"")
	return b.String()
}

// ExtractionResponseSchema is the structured-output schema for one target
// type's extraction call.
func ExtractionResponseSchema(schema *schemas.ObjectSchema) *genai.Schema {
	props := &genai.Schema{Type: genai.TypeObject}
	if schema != nil {
		props = schema.GenAISchema()
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"objects": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"temp_id":    {Type: genai.TypeString},
						"key":        {Type: genai.TypeString},
						"labels":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
						"properties": props,
						"confidence": {Type: genai.TypeNumber},
						"evidence":   {Type: genai.TypeString},
					},
					Required: []string{"temp_id", "properties", "confidence"},
				},
			},
			"relationships": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"type":           {Type: genai.TypeString},
						"source_temp_id": {Type: genai.TypeString},
						"target_temp_id": {Type: genai.TypeString},
						"confidence":     {Type: genai.TypeNumber},
						"evidence":       {Type: genai.TypeString},
					},
					Required: []string{"type", "source_temp_id", "target_temp_id", "confidence"},
				},
			},
		},
		Required: []string{"objects"},
	}
}

// ParseExtractionResponse decodes the model output for one target type.
// A fenced or prefixed payload gets one fallback extraction pass before the
// response is rejected as unparsable.
func ParseExtractionResponse(raw, typeName string) (*ExtractionResult, error) {
	result := &ExtractionResult{}
	if err := json.Unmarshal([]byte(raw), result); err != nil {
		if err2 := json.Unmarshal([]byte(extractJSON(raw)), result); err2 != nil {
			return nil, fmt.Errorf("unparsable extraction response for type %s: %w", typeName, err)
		}
	}

	kept := result.Objects[:0]
	for _, obj := range result.Objects {
		if obj.TempID == "" || len(obj.Properties) == 0 {
			continue
		}
		obj.Type = typeName
		obj.Confidence = mathutil.Clamp01(obj.Confidence)
		kept = append(kept, obj)
	}
	result.Objects = kept

	keptRels := result.Relationships[:0]
	for _, rel := range result.Relationships {
		if rel.Type == "" || rel.SourceTempID == "" || rel.TargetTempID == "" {
			continue
		}
		rel.Confidence = mathutil.Clamp01(rel.Confidence)
		keptRels = append(keptRels, rel)
	}
	result.Relationships = keptRels

	return result, nil
}

// OrphanRelationshipRate is the fraction of relationships referencing a
// temp id that no extracted object carries. High rates indicate the model
// hallucinated structure and count against the job's debug info.
func OrphanRelationshipRate(result *ExtractionResult) float64 {
	if len(result.Relationships) == 0 {
		return 0
	}
	tempIDs := make(map[string]struct{}, len(result.Objects))
	for _, obj := range result.Objects {
		tempIDs[obj.TempID] = struct{}{}
	}

	orphans := 0
	for _, rel := range result.Relationships {
		if _, ok := tempIDs[rel.SourceTempID]; !ok {
			orphans++
			continue
		}
		if _, ok := tempIDs[rel.TargetTempID]; !ok {
			orphans++
		}
	}
	return float64(orphans) / float64(len(result.Relationships))
}

// extractJSON strips markdown fences and leading prose around a JSON
// payload. Returns the input unchanged when no braces are found.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return s
	}
	return s[start : end+1]
}
