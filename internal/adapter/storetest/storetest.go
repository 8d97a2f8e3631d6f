// Package storetest is a conformance suite shared by every CollectionStore
// implementation.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvsearch/internal/domain"
	"csvsearch/internal/port"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) port.CollectionStore

// Run exercises the CollectionStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s port.CollectionStore)
	}{
		{"CreateCollectionIsIdempotent", testCreateIdempotent},
		{"CreateCollectionRejectsBadSpec", testCreateRejectsBadSpec},
		{"QueryRanksByDescendingScore", testQueryRanking},
		{"TiesBrokenByInsertionOrder", testTieBreak},
		{"UpsertOverwritesByID", testUpsertOverwrites},
		{"EmptyCollectionQuery", testEmptyCollectionQuery},
		{"UnknownCollection", testUnknownCollection},
		{"InvalidBatch", testInvalidBatch},
		{"DimensionMismatch", testDimensionMismatch},
		{"UpsertIsAtomic", testUpsertAtomic},
		{"ListCollectionsSorted", testListSorted},
		{"DeleteCollection", testDelete},
		{"L2Metric", testL2Metric},
		{"CanceledContext", testCanceledContext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func create(t *testing.T, s port.CollectionStore, name string, dim int) domain.CollectionInfo {
	t.Helper()
	info, err := s.CreateCollection(context.Background(), domain.CollectionSpec{
		Name:      name,
		Dimension: dim,
		Metric:    domain.MetricCosine,
		Model:     "test-model",
		Source:    name + ".csv",
	})
	require.NoError(t, err)
	return info
}

func ids(matches []domain.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Record.ID
	}
	return out
}

func testCreateIdempotent(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	first := create(t, s, "parts", 3)
	assert.Equal(t, "parts", first.Name)
	assert.Equal(t, 3, first.Dimension)
	assert.Equal(t, domain.MetricCosine, first.Metric)
	assert.Equal(t, "test-model", first.Model)
	assert.Equal(t, 0, first.Count)

	require.NoError(t, s.Upsert(ctx, "parts", []string{"a"}, [][]float32{{1, 0, 0}}, []string{"x"}, []map[string]string{nil}))

	again, err := s.CreateCollection(ctx, domain.CollectionSpec{Name: "parts", Dimension: 8, Model: "other", Source: "other.csv"})
	require.NoError(t, err)
	assert.Equal(t, 3, again.Dimension, "existing collection must keep its dimension")
	assert.Equal(t, "test-model", again.Model)
	assert.Equal(t, "parts.csv", again.Source)
	assert.Equal(t, 1, again.Count)

	got, err := s.GetCollection(ctx, "parts")
	require.NoError(t, err)
	assert.Equal(t, again.Name, got.Name)
	assert.Equal(t, 1, got.Count)
}

func testCreateRejectsBadSpec(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()

	_, err := s.CreateCollection(ctx, domain.CollectionSpec{Name: "", Dimension: 3})
	assert.Error(t, err)

	_, err = s.CreateCollection(ctx, domain.CollectionSpec{Name: "zero", Dimension: 0})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	_, err = s.CreateCollection(ctx, domain.CollectionSpec{Name: "odd", Dimension: 3, Metric: "manhattan"})
	assert.Error(t, err)

	info, err := s.CreateCollection(ctx, domain.CollectionSpec{Name: "defaulted", Dimension: 3})
	require.NoError(t, err)
	assert.Equal(t, domain.MetricCosine, info.Metric)
}

func testQueryRanking(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	create(t, s, "parts", 3)

	err := s.Upsert(ctx, "parts",
		[]string{"far", "near", "mid"},
		[][]float32{{0, 1, 0}, {1, 0, 0}, {0.8, 0.6, 0}},
		[]string{"far text", "near text", "mid text"},
		[]map[string]string{{"Part_No": "F1"}, {"Part_No": "N1"}, nil},
	)
	require.NoError(t, err)

	matches, err := s.Query(ctx, "parts", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, []string{"near", "mid", "far"}, ids(matches))

	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.InDelta(t, 0.8, matches[1].Score, 1e-6)
	assert.InDelta(t, 0.0, matches[2].Score, 1e-6)

	assert.Equal(t, "near text", matches[0].Record.Text)
	assert.Equal(t, "N1", matches[0].Record.Metadata["Part_No"])
	assert.Empty(t, matches[1].Record.Metadata)

	top, err := s.Query(ctx, "parts", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"near"}, ids(top))
}

func testTieBreak(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	create(t, s, "ties", 2)

	vec := []float32{0.6, 0.8}
	require.NoError(t, s.Upsert(ctx, "ties", []string{"c", "a"}, [][]float32{vec, vec}, []string{"c", "a"}, []map[string]string{nil, nil}))
	require.NoError(t, s.Upsert(ctx, "ties", []string{"b"}, [][]float32{vec}, []string{"b"}, []map[string]string{nil}))

	matches, err := s.Query(ctx, "ties", []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, ids(matches))
}

func testUpsertOverwrites(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	create(t, s, "parts", 2)

	batch := func(text string) error {
		return s.Upsert(ctx, "parts",
			[]string{"row-1", "row-2"},
			[][]float32{{1, 0}, {1, 0}},
			[]string{text + " 1", text + " 2"},
			[]map[string]string{nil, nil},
		)
	}
	require.NoError(t, batch("first"))
	require.NoError(t, batch("second"))

	info, err := s.GetCollection(ctx, "parts")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Count)

	matches, err := s.Query(ctx, "parts", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, []string{"row-1", "row-2"}, ids(matches), "overwrite keeps original insertion order")
	assert.Equal(t, "second 1", matches[0].Record.Text)
}

func testEmptyCollectionQuery(t *testing.T, s port.CollectionStore) {
	create(t, s, "empty", 3)

	matches, err := s.Query(context.Background(), "empty", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func testUnknownCollection(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()

	_, err := s.Query(ctx, "missing", []float32{1}, 5)
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)

	err = s.Upsert(ctx, "missing", []string{"a"}, [][]float32{{1}}, []string{"a"}, []map[string]string{nil})
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)

	_, err = s.GetCollection(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)

	err = s.DeleteCollection(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func testInvalidBatch(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	create(t, s, "parts", 2)

	err := s.Upsert(ctx, "parts", []string{"a", "b"}, [][]float32{{1, 0}}, []string{"a", "b"}, []map[string]string{nil, nil})
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)

	err = s.Upsert(ctx, "parts", []string{"a"}, [][]float32{{1, 0}}, []string{"a", "b"}, []map[string]string{nil})
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)

	err = s.Upsert(ctx, "parts", []string{""}, [][]float32{{1, 0}}, []string{"a"}, []map[string]string{nil})
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)

	info, err := s.GetCollection(ctx, "parts")
	require.NoError(t, err)
	assert.Equal(t, 0, info.Count)
}

func testDimensionMismatch(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	create(t, s, "parts", 3)

	err := s.Upsert(ctx, "parts", []string{"a"}, [][]float32{{1, 0}}, []string{"a"}, []map[string]string{nil})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	_, err = s.Query(ctx, "parts", []float32{1, 0, 0, 0}, 5)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func testUpsertAtomic(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	create(t, s, "parts", 2)

	err := s.Upsert(ctx, "parts",
		[]string{"ok", "bad"},
		[][]float32{{1, 0}, {1, 0, 0}},
		[]string{"ok", "bad"},
		[]map[string]string{nil, nil},
	)
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)

	info, err := s.GetCollection(ctx, "parts")
	require.NoError(t, err)
	assert.Equal(t, 0, info.Count, "a rejected batch must not write any record")

	matches, err := s.Query(ctx, "parts", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func testListSorted(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()

	infos, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	create(t, s, "wheels", 2)
	create(t, s, "brake_pads", 2)
	create(t, s, "filters", 2)
	require.NoError(t, s.Upsert(ctx, "filters", []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}, []string{"a", "b"}, []map[string]string{nil, nil}))

	infos, err = s.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "brake_pads", infos[0].Name)
	assert.Equal(t, "filters", infos[1].Name)
	assert.Equal(t, "wheels", infos[2].Name)
	assert.Equal(t, 2, infos[1].Count)
	assert.Equal(t, 0, infos[2].Count)
}

func testDelete(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	create(t, s, "parts", 2)
	create(t, s, "keep", 2)
	require.NoError(t, s.Upsert(ctx, "parts", []string{"a"}, [][]float32{{1, 0}}, []string{"a"}, []map[string]string{nil}))

	require.NoError(t, s.DeleteCollection(ctx, "parts"))

	infos, err := s.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "keep", infos[0].Name)

	err = s.DeleteCollection(ctx, "parts")
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)

	// Recreating starts from an empty collection.
	info := create(t, s, "parts", 2)
	assert.Equal(t, 0, info.Count)
}

func testL2Metric(t *testing.T, s port.CollectionStore) {
	ctx := context.Background()
	_, err := s.CreateCollection(ctx, domain.CollectionSpec{Name: "l2", Dimension: 2, Metric: domain.MetricL2})
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, "l2",
		[]string{"far", "exact", "near"},
		[][]float32{{4, 4}, {1, 1}, {1, 2}},
		[]string{"far", "exact", "near"},
		[]map[string]string{nil, nil, nil},
	))

	matches, err := s.Query(ctx, "l2", []float32{1, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "near", "far"}, ids(matches))
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.InDelta(t, 0.5, matches[1].Score, 1e-9)
}

func testCanceledContext(t *testing.T, s port.CollectionStore) {
	create(t, s, "parts", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Query(ctx, "parts", []float32{1, 0}, 5)
	assert.ErrorIs(t, err, context.Canceled)

	err = s.Upsert(ctx, "parts", []string{"a"}, [][]float32{{1, 0}}, []string{"a"}, []map[string]string{nil})
	assert.ErrorIs(t, err, context.Canceled)
}
