package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphmill/graphmill/pkg/apperror"
)

// Document is the extractable view of a source.
type Document struct {
	Text     string
	Metadata map[string]any
}

// DocumentLoader resolves a job's source into extractable text. Format
// parsing and storage live with the collaborator that registers a loader;
// the pipeline only consumes text.
type DocumentLoader interface {
	LoadDocument(ctx context.Context, sourceType, sourceID string) (*Document, error)
}

// InlineLoader handles the manual source type, where the source id carries
// the text itself. Every other source type needs a registered loader.
type InlineLoader struct{}

func (InlineLoader) LoadDocument(ctx context.Context, sourceType, sourceID string) (*Document, error) {
	if sourceType != SourceTypeManual {
		return nil, apperror.NewBadRequest(fmt.Sprintf("no document loader for source type %q", sourceType))
	}
	text := strings.TrimSpace(sourceID)
	if text == "" {
		return nil, apperror.NewBadRequest("manual source has no text")
	}
	return &Document{Text: text, Metadata: map[string]any{"source_type": sourceType}}, nil
}

// LoaderMux routes source types to registered loaders, falling back to the
// inline loader.
type LoaderMux struct {
	loaders map[string]DocumentLoader
	inline  InlineLoader
}

// NewLoaderMux creates an empty mux.
func NewLoaderMux() *LoaderMux {
	return &LoaderMux{loaders: map[string]DocumentLoader{}}
}

// Register installs a loader for one source type.
func (m *LoaderMux) Register(sourceType string, loader DocumentLoader) {
	m.loaders[sourceType] = loader
}

func (m *LoaderMux) LoadDocument(ctx context.Context, sourceType, sourceID string) (*Document, error) {
	if loader, ok := m.loaders[sourceType]; ok {
		return loader.LoadDocument(ctx, sourceType, sourceID)
	}
	return m.inline.LoadDocument(ctx, sourceType, sourceID)
}
