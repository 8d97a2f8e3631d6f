package store

import (
	"fmt"
	"math"
	"sort"

	"csvsearch/internal/domain"
)

// Candidate is a scored record awaiting ranking. Seq is the record's
// insertion sequence within its collection.
type Candidate struct {
	Seq    uint64
	Record domain.Record
	Score  float64
}

// Rank orders candidates by descending score, breaking ties by insertion
// sequence, and returns at most k of them as matches.
func Rank(cands []Candidate, k int) []domain.Match {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Seq < cands[j].Seq
	})

	if k > len(cands) {
		k = len(cands)
	}
	if k < 0 {
		k = 0
	}

	matches := make([]domain.Match, k)
	for i := 0; i < k; i++ {
		matches[i] = domain.Match{Record: cands[i].Record, Score: cands[i].Score}
	}
	return matches
}

// Similarity scores b against the query a under metric. Higher is closer.
// For l2 the distance d is mapped to 1/(1+d).
func Similarity(metric string, a, b []float32) float64 {
	if metric == domain.MetricL2 {
		return 1 / (1 + l2Distance(a, b))
	}
	return cosineSimilarity(a, b)
}

// NormalizeSpec fills defaults on spec and rejects unusable values.
func NormalizeSpec(spec domain.CollectionSpec) (domain.CollectionSpec, error) {
	if spec.Name == "" {
		return spec, fmt.Errorf("%w: collection name is required", domain.ErrInvalidBatch)
	}
	if spec.Dimension <= 0 {
		return spec, fmt.Errorf("%w: collection %s needs a positive dimension, got %d",
			domain.ErrDimensionMismatch, spec.Name, spec.Dimension)
	}
	switch spec.Metric {
	case "":
		spec.Metric = domain.MetricCosine
	case domain.MetricCosine, domain.MetricL2:
	default:
		return spec, fmt.Errorf("unknown metric %q", spec.Metric)
	}
	return spec, nil
}

// ValidateBatch checks an upsert batch against a collection's dimension.
func ValidateBatch(dimension int, ids []string, vectors [][]float32, texts []string, metadatas []map[string]string) error {
	n := len(ids)
	if len(vectors) != n || len(texts) != n || len(metadatas) != n {
		return fmt.Errorf("%w: %d ids, %d vectors, %d texts, %d metadatas",
			domain.ErrInvalidBatch, n, len(vectors), len(texts), len(metadatas))
	}
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty id at position %d", domain.ErrInvalidBatch, i)
		}
		if len(vectors[i]) != dimension {
			return fmt.Errorf("%w: vector for %s has %d values, collection expects %d",
				domain.ErrDimensionMismatch, id, len(vectors[i]), dimension)
		}
	}
	return nil
}

// ValidateQuery checks a query vector against a collection's dimension.
func ValidateQuery(dimension int, vector []float32) error {
	if len(vector) != dimension {
		return fmt.Errorf("%w: query has %d values, collection expects %d",
			domain.ErrDimensionMismatch, len(vector), dimension)
	}
	return nil
}

// NotFound returns the error stores report for an unknown collection.
func NotFound(name string) error {
	return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
