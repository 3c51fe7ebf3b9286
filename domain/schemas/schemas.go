// Package schemas defines the extraction target-type schemas shared by the
// graph store (validation boundary) and the extraction pipeline (prompt and
// response schemas).
package schemas

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"
)

// PropertyDef describes one property of a target type.
type PropertyDef struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ObjectSchema describes an extractable entity type.
type ObjectSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]PropertyDef `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
}

// RelationshipSchema describes an extractable relationship type.
type RelationshipSchema struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SourceType  string `json:"source_type,omitempty"`
	TargetType  string `json:"target_type,omitempty"`
	// Symmetric marks direction-independent types (married_to, sibling_of).
	Symmetric bool `json:"symmetric,omitempty"`
	// Inverse names the reverse reading of this type (parent_of -> child_of).
	Inverse string `json:"inverse,omitempty"`
}

// ExtractionSchemas groups the schemas active for a project.
type ExtractionSchemas struct {
	ObjectSchemas       map[string]ObjectSchema       `json:"object_schemas"`
	RelationshipSchemas map[string]RelationshipSchema `json:"relationship_schemas"`
}

// Provider supplies the active schemas for a project.
type Provider interface {
	GetProjectSchemas(ctx context.Context, projectID string) (*ExtractionSchemas, error)
}

// JSONSchema converts an ObjectSchema to a resolvable JSON Schema for
// validating property bags at the ingestion edge.
func (s *ObjectSchema) JSONSchema() *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(s.Properties))
	for name, def := range s.Properties {
		props[name] = &jsonschema.Schema{
			Type:        jsonType(def.Type),
			Description: def.Description,
		}
	}
	return &jsonschema.Schema{
		Type:        "object",
		Description: s.Description,
		Properties:  props,
		Required:    s.Required,
	}
}

// ValidateProperties checks a property bag against the schema. A nil or empty
// schema accepts anything.
func (s *ObjectSchema) ValidateProperties(props map[string]any) error {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}
	resolved, err := s.JSONSchema().Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve schema %s: %w", s.Name, err)
	}
	if err := resolved.Validate(props); err != nil {
		return fmt.Errorf("properties do not match schema %s: %w", s.Name, err)
	}
	return nil
}

// GenAISchema converts an ObjectSchema to a genai response schema fragment.
func (s *ObjectSchema) GenAISchema() *genai.Schema {
	props := make(map[string]*genai.Schema, len(s.Properties))
	for name, def := range s.Properties {
		props[name] = &genai.Schema{
			Type:        genaiType(def.Type),
			Description: def.Description,
		}
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
	}
}

func jsonType(t string) string {
	switch t {
	case "number", "integer", "boolean", "array", "object", "string":
		return t
	case "date":
		return "string"
	default:
		return "string"
	}
}

func genaiType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
