package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvsearch/internal/adapter/storetest"
	"csvsearch/internal/domain"
	"csvsearch/internal/port"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.CollectionStore {
		s, err := Open(filepath.Join(t.TempDir(), "collections.sqlite"))
		require.NoError(t, err)
		return s
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "collections.sqlite")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.CreateCollection(ctx, domain.CollectionSpec{Name: "parts", Dimension: 3, Model: "m", Source: "Parts.csv"})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "parts",
		[]string{"row-1"}, [][]float32{{0.25, -1.5, 3}}, []string{"worn brake pad"},
		[]map[string]string{{"Part_No": "BP100", "Brand": "Bosch"}}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)

	info, err := s.GetCollection(ctx, "parts")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)
	assert.Equal(t, "Parts.csv", info.Source)
	assert.False(t, info.CreatedAt.IsZero())

	matches, err := s.Query(ctx, "parts", []float32{0.25, -1.5, 3}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, []float32{0.25, -1.5, 3}, matches[0].Record.Vector)
	assert.Equal(t, map[string]string{"Part_No": "BP100", "Brand": "Bosch"}, matches[0].Record.Metadata)
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0, 1, -1, 3.14159, 1e-7}
	assert.Equal(t, in, decodeVector(encodeVector(in)))
	assert.Empty(t, decodeVector(nil))
}
