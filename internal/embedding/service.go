package embedding

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Service wraps an embedding model selected from the registry and logs
// which model was loaded.
type Service struct {
	model EmbeddingModel
}

// NewService creates a service using the default model.
func NewService(opts Options) (*Service, error) {
	return NewServiceWithModel(GetDefaultModel(), opts)
}

// NewServiceWithModel creates a service using the model with the given version.
// An empty version selects the default model.
func NewServiceWithModel(version string, opts Options) (*Service, error) {
	if version == "" {
		version = GetDefaultModel()
	}
	model, err := GetModel(version, opts)
	if err != nil {
		return nil, fmt.Errorf("create embedding model %q: %w", version, err)
	}
	log.Info().
		Str("model", model.Name()).
		Str("version", model.Version()).
		Int("dimensions", model.Dimensions()).
		Msg("Embedding model loaded")
	return &Service{model: model}, nil
}

var _ EmbeddingModel = (*Service)(nil)

// Name returns the model name.
func (s *Service) Name() string {
	return s.model.Name()
}

// Version returns the model version.
func (s *Service) Version() string {
	return s.model.Version()
}

// Dimensions returns the embedding vector size.
func (s *Service) Dimensions() int {
	return s.model.Dimensions()
}

// Embed generates an embedding for a single text.
func (s *Service) Embed(text string) ([]float32, error) {
	return s.model.Embed(text)
}

// EmbedBatch generates embeddings for multiple texts.
func (s *Service) EmbedBatch(texts []string) ([][]float32, error) {
	return s.model.EmbedBatch(texts)
}

// Close releases model resources.
func (s *Service) Close() error {
	return s.model.Close()
}
