package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"csvsearch/internal/adapter/store"
	"csvsearch/internal/domain"
	"csvsearch/internal/port"
)

var _ port.CollectionStore = (*MemoryStore)(nil)

// MemoryStore is a non-persistent CollectionStore for tests and throwaway runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	info    domain.CollectionInfo
	records map[string]entry
	nextSeq uint64
}

type entry struct {
	seq    uint64
	record domain.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*collection),
	}
}

func (s *MemoryStore) CreateCollection(ctx context.Context, spec domain.CollectionSpec) (domain.CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.CollectionInfo{}, err
	}
	spec, err := store.NormalizeSpec(spec)
	if err != nil {
		return domain.CollectionInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[spec.Name]; ok {
		return c.snapshot(), nil
	}
	c := &collection{
		info: domain.CollectionInfo{
			Name:      spec.Name,
			Dimension: spec.Dimension,
			Metric:    spec.Metric,
			Model:     spec.Model,
			Source:    spec.Source,
			CreatedAt: time.Now().UTC(),
		},
		records: make(map[string]entry),
	}
	s.collections[spec.Name] = c
	return c.snapshot(), nil
}

func (s *MemoryStore) GetCollection(ctx context.Context, name string) (domain.CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.CollectionInfo{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return domain.CollectionInfo{}, store.NotFound(name)
	}
	return c.snapshot(), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, name string, ids []string, vectors [][]float32, texts []string, metadatas []map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return store.NotFound(name)
	}
	if err := store.ValidateBatch(c.info.Dimension, ids, vectors, texts, metadatas); err != nil {
		return err
	}

	for i, id := range ids {
		e, exists := c.records[id]
		if !exists {
			e.seq = c.nextSeq
			c.nextSeq++
		}
		e.record = domain.Record{
			ID:       id,
			Text:     texts[i],
			Metadata: copyMetadata(metadatas[i]),
			Vector:   append([]float32(nil), vectors[i]...),
		}
		c.records[id] = e
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, name string, vector []float32, k int) ([]domain.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, store.NotFound(name)
	}
	if err := store.ValidateQuery(c.info.Dimension, vector); err != nil {
		return nil, err
	}

	cands := make([]store.Candidate, 0, len(c.records))
	for _, e := range c.records {
		cands = append(cands, store.Candidate{
			Seq:    e.seq,
			Record: e.record,
			Score:  store.Similarity(c.info.Metric, vector, e.record.Vector),
		})
	}
	return store.Rank(cands, k), nil
}

func (s *MemoryStore) ListCollections(ctx context.Context) ([]domain.CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]domain.CollectionInfo, 0, len(s.collections))
	for _, c := range s.collections {
		infos = append(infos, c.snapshot())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *MemoryStore) DeleteCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		return store.NotFound(name)
	}
	delete(s.collections, name)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (c *collection) snapshot() domain.CollectionInfo {
	info := c.info
	info.Count = len(c.records)
	return info
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
