package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"csvsearch/internal/adapter/storetest"
	"csvsearch/internal/domain"
	"csvsearch/internal/port"
)

func TestBoltStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.CollectionStore {
		s, err := NewBoltStore(filepath.Join(t.TempDir(), "collections.db"))
		if err != nil {
			t.Fatalf("failed to open store: %v", err)
		}
		return s
	})
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "collections.db")

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if _, err := s.CreateCollection(ctx, domain.CollectionSpec{Name: "parts", Dimension: 2, Model: "m"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err = s.Upsert(ctx, "parts", []string{"row-1", "row-2"}, [][]float32{{1, 0}, {0, 1}},
		[]string{"worn brake pad", "air filter"}, []map[string]string{{"Part_No": "BP100"}, nil})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	info, err := s.GetCollection(ctx, "parts")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if info.Count != 2 {
		t.Errorf("expected 2 records after reopen, got %d", info.Count)
	}

	// New ids keep sequencing after the existing ones.
	if err := s.Upsert(ctx, "parts", []string{"row-3"}, [][]float32{{1, 0}}, []string{"brake disc"}, []map[string]string{nil}); err != nil {
		t.Fatalf("upsert after reopen: %v", err)
	}
	matches, err := s.Query(ctx, "parts", []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 || matches[0].Record.ID != "row-1" || matches[1].Record.ID != "row-3" {
		t.Fatalf("unexpected order after reopen: %+v", matches)
	}
	if matches[0].Record.Metadata["Part_No"] != "BP100" {
		t.Errorf("metadata lost across reopen: %v", matches[0].Record.Metadata)
	}
}

func TestBoltStore_SchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collections.db")

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	version, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("expected schema v%d, got v%d", CurrentSchemaVersion, version)
	}
	s.Close()

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("raw open: %v", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		data, _ := json.Marshal(CurrentSchemaVersion + 1)
		return tx.Bucket(bucketMeta).Put(keySchemaVersion, data)
	})
	db.Close()
	if err != nil {
		t.Fatalf("raw update: %v", err)
	}

	if _, err := NewBoltStore(path); err == nil {
		t.Fatal("expected error opening a file from a newer schema version")
	}
}

func TestRank_LimitsAndOrders(t *testing.T) {
	cands := []Candidate{
		{Seq: 2, Record: domain.Record{ID: "b"}, Score: 0.5},
		{Seq: 0, Record: domain.Record{ID: "a"}, Score: 0.5},
		{Seq: 1, Record: domain.Record{ID: "c"}, Score: 0.9},
	}

	matches := Rank(cands, 10)
	want := []string{"c", "a", "b"}
	if len(matches) != len(want) {
		t.Fatalf("expected %d matches, got %d", len(want), len(matches))
	}
	for i, id := range want {
		if matches[i].Record.ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, matches[i].Record.ID)
		}
	}

	if got := Rank(cands, 0); len(got) != 0 {
		t.Errorf("expected no matches for k=0, got %d", len(got))
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name   string
		metric string
		a, b   []float32
		want   float64
	}{
		{"identical cosine", domain.MetricCosine, []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal cosine", domain.MetricCosine, []float32{1, 0}, []float32{0, 1}, 0},
		{"zero vector cosine", domain.MetricCosine, []float32{0, 0}, []float32{1, 0}, 0},
		{"identical l2", domain.MetricL2, []float32{3, 4}, []float32{3, 4}, 1},
		{"l2 distance 5", domain.MetricL2, []float32{0, 0}, []float32{3, 4}, 1.0 / 6.0},
	}

	for _, tt := range tests {
		got := Similarity(tt.metric, tt.a, tt.b)
		if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("%s: got %f, want %f", tt.name, got, tt.want)
		}
	}
}
