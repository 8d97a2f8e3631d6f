package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"csvsearch/internal/adapter/analyzer"
	"csvsearch/internal/port"
)

var _ port.Embedder = (*HashingEmbedder)(nil)

// HashingModelName identifies vectors produced by HashingEmbedder. Bump the
// version suffix whenever the feature extraction changes so collections built
// with an older scheme are detected as a model mismatch.
const HashingModelName = "hashing-v1"

// HashingEmbedder maps stemmed tokens onto a fixed number of signed buckets
// and L2-normalises the result. It needs no model files or network access,
// so it backs tests and offline deployments. Texts sharing stems land close
// under cosine similarity; it has no notion of synonyms.
type HashingEmbedder struct {
	dimension int
	tokenizer *analyzer.Tokenizer
}

func NewHashingEmbedder(dimension int) *HashingEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashingEmbedder{
		dimension: dimension,
		tokenizer: analyzer.NewTokenizer(true),
	}
}

func (e *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embeddings[i] = e.embedOne(text)
	}
	return embeddings, nil
}

func (e *HashingEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, token := range e.tokenizer.Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimension))
		if sum>>63 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return l2Normalize(vec)
}

func (e *HashingEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashingEmbedder) ModelName() string {
	return HashingModelName
}

func (e *HashingEmbedder) Ping(ctx context.Context) error {
	return ctx.Err()
}

func l2Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
