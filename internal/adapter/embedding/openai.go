package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"csvsearch/internal/domain"
	"csvsearch/internal/port"
)

var _ port.Embedder = (*OpenAIEmbedder)(nil)

// OpenAIEmbedder talks to any server exposing the OpenAI /embeddings API,
// including Ollama's /v1 compatibility layer.
type OpenAIEmbedder struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	maxBatch  int
	client    *http.Client
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// knownDimensions lists output sizes for common models so the configured
// dimension can be omitted.
var knownDimensions = map[string]int{
	"all-minilm":             384,
	"all-minilm:l6-v2":       384,
	"all-MiniLM-L6-v2":       384,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

const (
	DefaultOllamaURL = "http://localhost:11434/v1"
	DefaultOpenAIURL = "https://api.openai.com/v1"
)

// NewOllamaEmbedder returns an embedder for a model served by a local Ollama.
func NewOllamaEmbedder(model, baseURL string, dimension int, timeout time.Duration) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return newEmbedder("ollama", model, baseURL, dimension, timeout)
}

// NewOpenAICompatibleEmbedder returns an embedder authenticated with the API
// key found in apiKeyEnv.
func NewOpenAICompatibleEmbedder(apiKeyEnv, model, baseURL string, dimension int, timeout time.Duration) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key not found in environment variable %s", domain.ErrModelUnavailable, apiKeyEnv)
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	return newEmbedder(apiKey, model, baseURL, dimension, timeout), nil
}

func newEmbedder(apiKey, model, baseURL string, dimension int, timeout time.Duration) *OpenAIEmbedder {
	if dimension <= 0 {
		dimension = knownDimensions[model]
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIEmbedder{
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
		dimension: dimension,
		maxBatch:  100,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	allEmbeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.maxBatch {
		end := min(i+e.maxBatch, len(texts))

		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	jsonData, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: request failed: %v", domain.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, preview(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", preview(body), err)
	}
	if embResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", embResp.Error.Message)
	}
	if len(embResp.Data) != len(texts) {
		return nil, fmt.Errorf("API returned %d embeddings for %d inputs", len(embResp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("API returned out of range index %d", data.Index)
		}
		if e.dimension > 0 && len(data.Embedding) != e.dimension {
			return nil, fmt.Errorf("%w: model %s returned %d values, expected %d",
				domain.ErrDimensionMismatch, e.model, len(data.Embedding), e.dimension)
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("API returned no embedding for input %d", i)
		}
	}

	return embeddings, nil
}

// Ping embeds a probe string. When no dimension was configured or known for
// the model, the probe result fixes it.
func (e *OpenAIEmbedder) Ping(ctx context.Context) error {
	vecs, err := e.embedBatch(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("%w: %s at %s: %v", domain.ErrModelUnavailable, e.model, e.baseURL, err)
	}
	if e.dimension == 0 {
		e.dimension = len(vecs[0])
	}
	return nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

func preview(body []byte) string {
	if len(body) > 200 {
		return string(body[:200])
	}
	return string(body)
}
