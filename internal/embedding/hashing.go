package embedding

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const (
	// HashingModelVersion is the version string for the local feature-hashing model.
	HashingModelVersion = "hashing"
	// HashingDefaultDimension matches the default collection vector size.
	HashingDefaultDimension = 384

	trigramWeight = 0.5
)

// hashingModel embeds text by hashing word and character-trigram features
// into a fixed number of signed buckets. It needs no network or model files,
// is deterministic, and is safe for concurrent use.
type hashingModel struct {
	dimensions int
}

// Compile-time check that hashingModel implements EmbeddingModel
var _ EmbeddingModel = (*hashingModel)(nil)

func init() {
	RegisterModel(ModelMetadata{
		Name:        "Feature Hashing",
		Version:     HashingModelVersion,
		Dimensions:  HashingDefaultDimension,
		Description: "Local deterministic word and trigram feature hashing",
		Default:     true,
	}, newHashingModel)
}

func newHashingModel(opts Options) (EmbeddingModel, error) {
	dims := opts.Dimensions
	if dims <= 0 {
		dims = HashingDefaultDimension
	}
	return &hashingModel{dimensions: dims}, nil
}

func (m *hashingModel) Name() string    { return "Feature Hashing" }
func (m *hashingModel) Version() string { return HashingModelVersion }
func (m *hashingModel) Dimensions() int { return m.dimensions }
func (m *hashingModel) Close() error    { return nil }

// Embed returns an L2-normalized vector. Text without word characters maps
// to the zero vector.
func (m *hashingModel) Embed(text string) ([]float32, error) {
	vec := make([]float64, m.dimensions)
	for _, word := range tokenize(text) {
		m.add(vec, word, 1)
		padded := " " + word + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			m.add(vec, string(runes[i:i+3]), trigramWeight)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, m.dimensions)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (m *hashingModel) EmbedBatch(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := m.Embed(text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

func (m *hashingModel) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize lowercases text and splits it on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
