// Package embedding provides text embedding generation with swappable models.
package embedding

import (
	"fmt"
	"sort"
	"sync"
)

// EmbeddingModel represents a text embedding model.
type EmbeddingModel interface {
	// Name returns the human-readable model name.
	Name() string

	// Version returns a short version string, stored alongside vectors.
	Version() string

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Embed generates an embedding for a single text.
	Embed(text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(texts []string) ([][]float32, error)

	// Close releases model resources.
	Close() error
}

// Options carries model settings resolved from configuration.
type Options struct {
	BaseURL    string
	APIKey     string
	ModelName  string
	Dimensions int
}

// ModelMetadata describes a registered model. Version is the short id
// stored with vectors and selected by configuration.
type ModelMetadata struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Dimensions  int    `json:"dimensions"`
	Default     bool   `json:"default"`
}

// ModelFactory creates a new instance of an embedding model.
type ModelFactory func(opts Options) (EmbeddingModel, error)

type registration struct {
	factory ModelFactory
	meta    ModelMetadata
}

// ModelRegistry maps model versions to factories.
type ModelRegistry struct {
	entries      map[string]registration
	defaultModel string
	mu           sync.RWMutex
}

// NewModelRegistry creates an empty registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{entries: make(map[string]registration)}
}

// Register adds a model. A model registered with Default set becomes the default.
func (r *ModelRegistry) Register(meta ModelMetadata, factory ModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[meta.Version] = registration{factory: factory, meta: meta}
	if meta.Default {
		r.defaultModel = meta.Version
	}
}

// Get instantiates the model registered under version.
func (r *ModelRegistry) Get(version string, opts Options) (EmbeddingModel, error) {
	r.mu.RLock()
	e, ok := r.entries[version]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model version: %s", version)
	}
	return e.factory(opts)
}

// Default returns the default model version.
func (r *ModelRegistry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// List returns metadata for all registered models, ordered by version.
func (r *ModelRegistry) List() []ModelMetadata {
	r.mu.RLock()
	out := make([]ModelMetadata, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.meta)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// DefaultRegistry is the global model registry with all available models.
var DefaultRegistry = NewModelRegistry()

// RegisterModel adds a model to the default registry.
func RegisterModel(meta ModelMetadata, factory ModelFactory) {
	DefaultRegistry.Register(meta, factory)
}

// GetModel creates a model instance from the default registry.
func GetModel(version string, opts Options) (EmbeddingModel, error) {
	return DefaultRegistry.Get(version, opts)
}

// GetDefaultModel returns the default model version from the default registry.
func GetDefaultModel() string {
	return DefaultRegistry.Default()
}

// ListModels returns metadata for all models in the default registry.
func ListModels() []ModelMetadata {
	return DefaultRegistry.List()
}
