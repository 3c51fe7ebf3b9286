package extraction

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/domain/graph"
)

func TestInlineLoader(t *testing.T) {
	var l InlineLoader

	doc, err := l.LoadDocument(t.Context(), SourceTypeManual, "  Acme Corp was founded in 2010.  ")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp was founded in 2010.", doc.Text)

	_, err = l.LoadDocument(t.Context(), SourceTypeManual, "   ")
	assert.Error(t, err)

	_, err = l.LoadDocument(t.Context(), SourceTypeDocument, "doc-123")
	assert.Error(t, err, "inline loader only handles manual sources")
}

type staticLoader struct {
	text string
}

func (s staticLoader) LoadDocument(ctx context.Context, sourceType, sourceID string) (*Document, error) {
	return &Document{Text: s.text}, nil
}

func TestLoaderMux_RoutesBySourceType(t *testing.T) {
	mux := NewLoaderMux()
	mux.Register(SourceTypeDocument, staticLoader{text: "stored document body"})

	doc, err := mux.LoadDocument(t.Context(), SourceTypeDocument, "doc-123")
	require.NoError(t, err)
	assert.Equal(t, "stored document body", doc.Text)

	// Unregistered types fall back to the inline loader.
	doc, err = mux.LoadDocument(t.Context(), SourceTypeManual, "inline text")
	require.NoError(t, err)
	assert.Equal(t, "inline text", doc.Text)
}

func TestObjectEmbeddingText(t *testing.T) {
	key := "acme-123"
	obj := &graph.GraphObject{
		ID:          uuid.New(),
		CanonicalID: uuid.New(),
		Type:        "company",
		Key:         &key,
		Properties: map[string]any{
			"name": "Acme Corp",
			"hq": map[string]any{
				"city":    "Berlin",
				"country": "DE",
			},
			"tags": []any{"anvils", "rockets"},
		},
	}

	text := ObjectEmbeddingText(obj)

	assert.Contains(t, text, "company")
	assert.Contains(t, text, "acme-123")
	assert.Contains(t, text, "name: Acme Corp")
	assert.Contains(t, text, "hq.city: Berlin")
	assert.Contains(t, text, "hq.country: DE")
	assert.Contains(t, text, "tags: anvils")
}

func TestObjectEmbeddingText_EmptyObject(t *testing.T) {
	obj := &graph.GraphObject{Type: "company", Properties: map[string]any{}}
	assert.Equal(t, "", ObjectEmbeddingText(obj))
}
