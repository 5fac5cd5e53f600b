package embedding

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/tiktoken-go/tokenizer"
)

const (
	OpenAIModelVersion     = "openai"
	OpenAIDefaultBaseURL   = "https://api.openai.com/v1"
	OpenAIDefaultModel     = "text-embedding-3-small"
	OpenAIDefaultDimension = 1536
	// OpenAIMaxInputTokens is the per-input token limit of the embeddings endpoint.
	OpenAIMaxInputTokens = 8191
	openAIHTTPTimeout    = 30 * time.Second
)

type openAIModel struct {
	client     *http.Client
	codec      tokenizer.Codec
	baseURL    string
	apiKey     string
	modelName  string
	dimensions int
}

// Compile-time check that openAIModel implements EmbeddingModel
var _ EmbeddingModel = (*openAIModel)(nil)

type openAIEmbedRequest struct {
	Input          any    `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format"`
	Dimensions     int    `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func cl100k() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

func init() {
	RegisterModel(ModelMetadata{
		Name:        "OpenAI Compatible",
		Version:     OpenAIModelVersion,
		Dimensions:  OpenAIDefaultDimension,
		Description: "OpenAI-compatible embedding via REST API",
	}, newOpenAIModel)
}

func newOpenAIModel(opts Options) (EmbeddingModel, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required for openai provider")
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = OpenAIDefaultBaseURL
	}
	modelName := opts.ModelName
	if modelName == "" {
		modelName = OpenAIDefaultModel
	}
	dimensions := opts.Dimensions
	if dimensions <= 0 {
		dimensions = OpenAIDefaultDimension
	}
	c, err := cl100k()
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	return &openAIModel{
		client:     &http.Client{Timeout: openAIHTTPTimeout},
		codec:      c,
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		modelName:  modelName,
		dimensions: dimensions,
	}, nil
}

func (m *openAIModel) Name() string    { return "OpenAI Compatible" }
func (m *openAIModel) Version() string { return OpenAIModelVersion }
func (m *openAIModel) Dimensions() int { return m.dimensions }
func (m *openAIModel) Close() error    { return nil }

func (m *openAIModel) Embed(text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, m.dimensions), nil
	}
	results, err := m.embedRequest(m.truncate(text))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("embedding API returned no results for model %s", m.modelName)
	}
	return results[0], nil
}

func (m *openAIModel) EmbedBatch(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = m.truncate(t)
		if strings.TrimSpace(inputs[i]) == "" {
			// The API rejects empty strings.
			inputs[i] = " "
		}
	}
	results, err := m.embedRequest(inputs)
	if err != nil {
		return nil, err
	}
	if len(results) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d results for %d inputs (model=%s)",
			len(results), len(texts), m.modelName)
	}
	return results, nil
}

// truncate caps text at OpenAIMaxInputTokens cl100k tokens.
func (m *openAIModel) truncate(text string) string {
	ids, _, err := m.codec.Encode(text)
	if err != nil || len(ids) <= OpenAIMaxInputTokens {
		return text
	}
	out, err := m.codec.Decode(ids[:OpenAIMaxInputTokens])
	if err != nil {
		return text
	}
	return out
}

func (m *openAIModel) embedRequest(input any) ([][]float32, error) {
	reqBody := openAIEmbedRequest{
		Input:          input,
		Model:          m.modelName,
		EncodingFormat: "float",
	}
	if m.dimensions != OpenAIDefaultDimension {
		reqBody.Dimensions = m.dimensions
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, m.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embedding request to %s: %w", m.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodySnippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding API error (model=%s, status=%d): %s",
			m.modelName, resp.StatusCode, strings.TrimSpace(string(bodySnippet)))
	}

	var embedResp openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode embedding response from %s: %w", m.baseURL, err)
	}

	// Sort by index to preserve order
	sort.Slice(embedResp.Data, func(i, j int) bool {
		return embedResp.Data[i].Index < embedResp.Data[j].Index
	})

	results := make([][]float32, len(embedResp.Data))
	for i, d := range embedResp.Data {
		if len(d.Embedding) != m.dimensions {
			return nil, fmt.Errorf("embedding API returned %d dimensions, expected %d (model=%s)",
				len(d.Embedding), m.dimensions, m.modelName)
		}
		results[i] = d.Embedding
	}
	return results, nil
}
