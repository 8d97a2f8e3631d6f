package port

import (
	"context"

	"csvsearch/internal/domain"
)

// CollectionStore stores named collections of embedded records.
type CollectionStore interface {
	// CreateCollection creates the collection if it does not exist and
	// returns its info. An existing collection is returned unchanged.
	CreateCollection(ctx context.Context, spec domain.CollectionSpec) (domain.CollectionInfo, error)

	// GetCollection returns info for a single collection.
	GetCollection(ctx context.Context, name string) (domain.CollectionInfo, error)

	// Upsert inserts or overwrites records by id. All slices must have equal
	// length. A single call is applied atomically.
	Upsert(ctx context.Context, collection string, ids []string, vectors [][]float32, texts []string, metadatas []map[string]string) error

	// Query returns up to k records ranked by descending similarity, ties
	// broken by insertion order.
	Query(ctx context.Context, collection string, vector []float32, k int) ([]domain.Match, error)

	// ListCollections returns all collections sorted by name.
	ListCollections(ctx context.Context) ([]domain.CollectionInfo, error)

	// DeleteCollection removes a collection and all its records.
	DeleteCollection(ctx context.Context, name string) error

	Close() error
}
