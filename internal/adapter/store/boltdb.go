package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"csvsearch/internal/domain"
	"csvsearch/internal/port"
)

var _ port.CollectionStore = (*BoltStore)(nil)

var (
	bucketMeta        = []byte("meta")
	bucketCollections = []byte("collections")
	bucketRecords     = []byte("records")
)

// BoltStore keeps every collection in one bbolt file. Collection settings
// live in the collections bucket; records live in a nested bucket per
// collection under records. Queries are brute force over the nested bucket.
type BoltStore struct {
	db *bbolt.DB
}

type collectionMeta struct {
	Dimension int       `json:"dimension"`
	Metric    string    `json:"metric"`
	Model     string    `json:"model"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	NextSeq   uint64    `json:"next_seq"`
	Count     int       `json:"count"`
}

type storedRecord struct {
	Seq      uint64            `json:"s"`
	Text     string            `json:"t"`
	Metadata map[string]string `json:"m,omitempty"`
	Vector   []float32         `json:"v"`
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	s := &BoltStore{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltStore) CreateCollection(ctx context.Context, spec domain.CollectionSpec) (domain.CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.CollectionInfo{}, err
	}
	spec, err := NormalizeSpec(spec)
	if err != nil {
		return domain.CollectionInfo{}, err
	}

	var info domain.CollectionInfo
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if meta, ok, err := getMeta(tx, spec.Name); err != nil {
			return err
		} else if ok {
			info = toInfo(spec.Name, meta)
			return nil
		}

		meta := collectionMeta{
			Dimension: spec.Dimension,
			Metric:    spec.Metric,
			Model:     spec.Model,
			Source:    spec.Source,
			CreatedAt: time.Now().UTC(),
		}
		if err := putMeta(tx, spec.Name, meta); err != nil {
			return err
		}
		if _, err := tx.Bucket(bucketRecords).CreateBucket([]byte(spec.Name)); err != nil {
			return fmt.Errorf("failed to create bucket for %s: %w", spec.Name, err)
		}
		info = toInfo(spec.Name, meta)
		return nil
	})
	return info, err
}

func (s *BoltStore) GetCollection(ctx context.Context, name string) (domain.CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.CollectionInfo{}, err
	}

	var info domain.CollectionInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta, ok, err := getMeta(tx, name)
		if err != nil {
			return err
		}
		if !ok {
			return NotFound(name)
		}
		info = toInfo(name, meta)
		return nil
	})
	return info, err
}

func (s *BoltStore) Upsert(ctx context.Context, collection string, ids []string, vectors [][]float32, texts []string, metadatas []map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, ok, err := getMeta(tx, collection)
		if err != nil {
			return err
		}
		if !ok {
			return NotFound(collection)
		}
		if err := ValidateBatch(meta.Dimension, ids, vectors, texts, metadatas); err != nil {
			return err
		}

		b := tx.Bucket(bucketRecords).Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("records bucket missing for %s", collection)
		}

		for i, id := range ids {
			rec := storedRecord{
				Text:     texts[i],
				Metadata: metadatas[i],
				Vector:   vectors[i],
			}
			if existing := b.Get([]byte(id)); existing != nil {
				var prev storedRecord
				if err := json.Unmarshal(existing, &prev); err != nil {
					return fmt.Errorf("corrupt record %s in %s: %w", id, collection, err)
				}
				rec.Seq = prev.Seq
			} else {
				rec.Seq = meta.NextSeq
				meta.NextSeq++
				meta.Count++
			}

			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}

		return putMeta(tx, collection, meta)
	})
}

func (s *BoltStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]domain.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matches []domain.Match
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta, ok, err := getMeta(tx, collection)
		if err != nil {
			return err
		}
		if !ok {
			return NotFound(collection)
		}
		if err := ValidateQuery(meta.Dimension, vector); err != nil {
			return err
		}

		b := tx.Bucket(bucketRecords).Bucket([]byte(collection))
		if b == nil {
			return nil
		}

		cands := make([]Candidate, 0, meta.Count)
		err = b.ForEach(func(k, v []byte) error {
			var rec storedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %s in %s: %w", k, collection, err)
			}
			cands = append(cands, Candidate{
				Seq: rec.Seq,
				Record: domain.Record{
					ID:       string(k),
					Text:     rec.Text,
					Metadata: rec.Metadata,
					Vector:   rec.Vector,
				},
				Score: Similarity(meta.Metric, vector, rec.Vector),
			})
			return nil
		})
		if err != nil {
			return err
		}

		matches = Rank(cands, k)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *BoltStore) ListCollections(ctx context.Context) ([]domain.CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos := []domain.CollectionInfo{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCollections).ForEach(func(k, v []byte) error {
			var meta collectionMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("corrupt collection entry %s: %w", k, err)
			}
			infos = append(infos, toInfo(string(k), meta))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *BoltStore) DeleteCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, ok, err := getMeta(tx, name); err != nil {
			return err
		} else if !ok {
			return NotFound(name)
		}
		if err := tx.Bucket(bucketCollections).Delete([]byte(name)); err != nil {
			return err
		}
		records := tx.Bucket(bucketRecords)
		if records.Bucket([]byte(name)) != nil {
			return records.DeleteBucket([]byte(name))
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getMeta(tx *bbolt.Tx, name string) (collectionMeta, bool, error) {
	var meta collectionMeta
	data := tx.Bucket(bucketCollections).Get([]byte(name))
	if data == nil {
		return meta, false, nil
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, false, fmt.Errorf("corrupt collection entry %s: %w", name, err)
	}
	return meta, true, nil
}

func putMeta(tx *bbolt.Tx, name string, meta collectionMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketCollections).Put([]byte(name), data)
}

func toInfo(name string, meta collectionMeta) domain.CollectionInfo {
	return domain.CollectionInfo{
		Name:      name,
		Dimension: meta.Dimension,
		Metric:    meta.Metric,
		Model:     meta.Model,
		Source:    meta.Source,
		Count:     meta.Count,
		CreatedAt: meta.CreatedAt,
	}
}
