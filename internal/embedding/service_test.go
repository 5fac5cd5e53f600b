package embedding

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// TestNewService tests creating a new embedding service with the default model.
func TestNewService(t *testing.T) {
	svc := newTestService(t)

	assert.Equal(t, HashingModelVersion, svc.Version())
	assert.NotEmpty(t, svc.Name())
	assert.Equal(t, HashingDefaultDimension, svc.Dimensions())
}

func TestNewServiceWithModel_Unknown(t *testing.T) {
	_, err := NewServiceWithModel("bogus", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model version")
}

func TestNewServiceWithModel_CustomDimensions(t *testing.T) {
	svc, err := NewServiceWithModel(HashingModelVersion, Options{Dimensions: 64})
	require.NoError(t, err)

	emb, err := svc.Embed("gmail search results")
	require.NoError(t, err)
	assert.Len(t, emb, 64)
}

// TestEmbed_SingleText tests embedding a single text.
func TestEmbed_SingleText(t *testing.T) {
	svc := newTestService(t)

	embedding, err := svc.Embed("Hello, world!")
	require.NoError(t, err)

	assert.Len(t, embedding, HashingDefaultDimension)

	var sum float64
	for _, v := range embedding {
		sum += float64(v * v)
	}
	assert.InDelta(t, 1.0, sum, 1e-4, "Embedding should be unit length")
}

// TestEmbed_EmptyText tests embedding text without word characters.
func TestEmbed_EmptyText(t *testing.T) {
	svc := newTestService(t)

	for _, text := range []string{"", "   ", "!!! ---"} {
		embedding, err := svc.Embed(text)
		require.NoError(t, err)
		assert.Len(t, embedding, HashingDefaultDimension)
		for _, v := range embedding {
			assert.Equal(t, float32(0), v)
		}
	}
}

// TestEmbed_SimilarTexts tests that related texts score higher than unrelated ones.
func TestEmbed_SimilarTexts(t *testing.T) {
	svc := newTestService(t)

	emb1, err := svc.Embed("search gmail messages from the finance team")
	require.NoError(t, err)
	emb2, err := svc.Embed("gmail messages search finance")
	require.NoError(t, err)
	emb3, err := svc.Embed("kubernetes pod restart backoff")
	require.NoError(t, err)

	sim12 := cosineSimilarity(emb1, emb2)
	sim13 := cosineSimilarity(emb1, emb3)
	assert.Greater(t, sim12, sim13)
	assert.Greater(t, sim12, 0.5)
}

func TestEmbed_CaseInsensitive(t *testing.T) {
	svc := newTestService(t)

	a, err := svc.Embed("Gmail Messages")
	require.NoError(t, err)
	b, err := svc.Embed("gmail messages")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// TestEmbedBatch_MultipleTexts tests batch embedding.
func TestEmbedBatch_MultipleTexts(t *testing.T) {
	svc := newTestService(t)

	texts := []string{
		"First text about programming.",
		"",
		"Third text about machine learning.",
	}

	embeddings, err := svc.EmbedBatch(texts)
	require.NoError(t, err)
	require.Len(t, embeddings, len(texts))
	for i, emb := range embeddings {
		assert.Len(t, emb, HashingDefaultDimension, "Embedding %d should have correct dimension", i)
	}
	for _, v := range embeddings[1] {
		assert.Equal(t, float32(0), v)
	}

	single, err := svc.Embed(texts[0])
	require.NoError(t, err)
	assert.Equal(t, single, embeddings[0])
}

// TestEmbedBatch_EmptySlice tests batch embedding with empty slice.
func TestEmbedBatch_EmptySlice(t *testing.T) {
	svc := newTestService(t)

	embeddings, err := svc.EmbedBatch([]string{})
	require.NoError(t, err)
	assert.Nil(t, embeddings)
}

// TestEmbed_Concurrent tests concurrent embedding calls.
func TestEmbed_Concurrent(t *testing.T) {
	svc := newTestService(t)

	const numGoroutines = 10
	var wg sync.WaitGroup
	embeddings := make([][]float32, numGoroutines)
	errs := make([]error, numGoroutines)

	for i := range numGoroutines {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			embeddings[idx], errs[idx] = svc.Embed("Test text for concurrent embedding test")
		}(i)
	}
	wg.Wait()

	for i := range numGoroutines {
		require.NoError(t, errs[i])
		assert.Equal(t, embeddings[0], embeddings[i])
	}
}

// TestEmbed_SpecialCharacters tests embedding text with special characters.
func TestEmbed_SpecialCharacters(t *testing.T) {
	svc := newTestService(t)

	texts := []string{
		"Text with unicode: 你好世界 🎉",
		"Text with newlines:\nLine 1\nLine 2",
		"Text with code: func main() { fmt.Println(\"hello\") }",
	}

	for _, text := range texts {
		emb, err := svc.Embed(text)
		require.NoError(t, err)
		assert.Len(t, emb, HashingDefaultDimension)
	}
}

func TestListModels(t *testing.T) {
	models := ListModels()
	versions := make([]string, 0, len(models))
	for _, m := range models {
		versions = append(versions, m.Version)
	}
	assert.Equal(t, []string{HashingModelVersion, OpenAIModelVersion}, versions)
	assert.Equal(t, HashingModelVersion, GetDefaultModel())
}

func TestOpenAIModel_RequiresAPIKey(t *testing.T) {
	_, err := GetModel(OpenAIModelVersion, Options{})
	require.Error(t, err)
}

func TestOpenAIModel_Embed(t *testing.T) {
	var gotAuth string
	var gotReq openAIEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		_, _ = w.Write([]byte(`{"model":"m","data":[
			{"index":1,"embedding":[0,1,0,0]},
			{"index":0,"embedding":[1,0,0,0]}
		]}`))
	}))
	defer srv.Close()

	model, err := GetModel(OpenAIModelVersion, Options{BaseURL: srv.URL + "/", APIKey: "k", Dimensions: 4})
	require.NoError(t, err)

	out, err := model.EmbedBatch([]string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.Equal(t, 4, gotReq.Dimensions)
	assert.Equal(t, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}, out)
}

func TestOpenAIModel_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	model, err := GetModel(OpenAIModelVersion, Options{BaseURL: srv.URL, APIKey: "k", Dimensions: 4})
	require.NoError(t, err)

	_, err = model.Embed("hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=429")
}

func TestOpenAIModel_Truncate(t *testing.T) {
	model, err := GetModel(OpenAIModelVersion, Options{APIKey: "k"})
	require.NoError(t, err)
	m := model.(*openAIModel)

	short := "a short input"
	assert.Equal(t, short, m.truncate(short))

	long := strings.Repeat("token ", OpenAIMaxInputTokens+500)
	truncated := m.truncate(long)
	ids, _, err := m.codec.Encode(truncated)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ids), OpenAIMaxInputTokens)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
