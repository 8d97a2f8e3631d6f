package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvsearch/internal/domain"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashingEmbedder_Dimension(t *testing.T) {
	e := NewHashingEmbedder(64)
	vecs, err := e.Embed(context.Background(), []string{"worn brake pad", "", "air filter"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.Len(t, v, 64, "vector %d", i)
	}
	assert.Equal(t, 64, e.Dimension())
	assert.Equal(t, HashingModelName, e.ModelName())
	assert.Equal(t, 384, NewHashingEmbedder(0).Dimension())
}

func TestHashingEmbedder_EmptyInput(t *testing.T) {
	vecs, err := NewHashingEmbedder(32).Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestHashingEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewHashingEmbedder(128)
	a, err := e.Embed(context.Background(), []string{"Front brake pads, ceramic"})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"Front brake pads, ceramic"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var sum float64
	for _, v := range a[0] {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestHashingEmbedder_SharedStemsAreCloser(t *testing.T) {
	e := NewHashingEmbedder(384)
	vecs, err := e.Embed(context.Background(), []string{"worn brake pad", "brake pads wear", "cabin air filter"})
	require.NoError(t, err)

	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[0], vecs[2])
	assert.Greater(t, related, 0.3)
	assert.Greater(t, related, unrelated)
}

func TestHashingEmbedder_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashingEmbedder(8).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeEmbeddingServer answers /embeddings with vectors of dim values whose
// first element encodes the input position.
func fakeEmbeddingServer(t *testing.T, dim int, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		if calls != nil {
			*calls++
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := embeddingResponse{}
		// Answer in reverse order to exercise index handling.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(i)
			resp.Data = append(resp.Data, embeddingData{Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIEmbedder_EmbedPreservesOrder(t *testing.T) {
	calls := 0
	srv := fakeEmbeddingServer(t, 4, &calls)
	defer srv.Close()

	e := NewOllamaEmbedder("test-model", srv.URL, 4, time.Second)
	e.maxBatch = 2

	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(0), vecs[0][0])
	assert.Equal(t, float32(1), vecs[1][0])
	assert.Equal(t, float32(0), vecs[2][0], "third input is first of the second batch")
	assert.Equal(t, 2, calls)
}

func TestOpenAIEmbedder_EmptyInputMakesNoCall(t *testing.T) {
	calls := 0
	srv := fakeEmbeddingServer(t, 4, &calls)
	defer srv.Close()

	vecs, err := NewOllamaEmbedder("test-model", srv.URL, 4, time.Second).Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, 0, calls)
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	srv := fakeEmbeddingServer(t, 3, nil)
	defer srv.Close()

	_, err := NewOllamaEmbedder("test-model", srv.URL, 4, time.Second).Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestOpenAIEmbedder_PingLearnsDimension(t *testing.T) {
	srv := fakeEmbeddingServer(t, 7, nil)
	defer srv.Close()

	e := NewOllamaEmbedder("unknown-model", srv.URL, 0, time.Second)
	assert.Equal(t, 0, e.Dimension())
	require.NoError(t, e.Ping(context.Background()))
	assert.Equal(t, 7, e.Dimension())
}

func TestOpenAIEmbedder_PingUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewOllamaEmbedder("all-minilm", srv.URL, 0, time.Second).Ping(context.Background())
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestOpenAIEmbedder_KnownDimension(t *testing.T) {
	assert.Equal(t, 384, NewOllamaEmbedder("all-minilm", "", 0, 0).Dimension())
}

func TestNewOpenAICompatibleEmbedder_MissingKey(t *testing.T) {
	t.Setenv("CSVSEARCH_TEST_MISSING_KEY", "")
	_, err := NewOpenAICompatibleEmbedder("CSVSEARCH_TEST_MISSING_KEY", "text-embedding-3-small", "", 0, 0)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestNewOpenAICompatibleEmbedder_SendsKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(embeddingResponse{Data: []embeddingData{{Embedding: []float32{1, 0}, Index: 0}}})
	}))
	defer srv.Close()

	t.Setenv("CSVSEARCH_TEST_KEY", "sk-test")
	e, err := NewOpenAICompatibleEmbedder("CSVSEARCH_TEST_KEY", "custom", srv.URL, 2, time.Second)
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", auth)
}
