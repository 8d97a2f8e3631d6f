package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"csvsearch/internal/adapter/cache"
	"csvsearch/internal/domain"
	"csvsearch/internal/port"
)

// CollectionsUseCase lists and removes collections.
type CollectionsUseCase struct {
	store  port.CollectionStore
	cache  *cache.QueryCache
	logger *slog.Logger
}

// NewCollectionsUseCase creates a new collections use case. cache may be nil.
func NewCollectionsUseCase(store port.CollectionStore, cache *cache.QueryCache, logger *slog.Logger) *CollectionsUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectionsUseCase{store: store, cache: cache, logger: logger}
}

// List returns every collection with its record count, sorted by name.
func (u *CollectionsUseCase) List(ctx context.Context) ([]domain.CollectionInfo, error) {
	return u.store.ListCollections(ctx)
}

func (u *CollectionsUseCase) Get(ctx context.Context, name string) (domain.CollectionInfo, error) {
	return u.store.GetCollection(ctx, name)
}

// Delete removes a collection and all of its records.
func (u *CollectionsUseCase) Delete(ctx context.Context, name string) error {
	if err := u.store.DeleteCollection(ctx, name); err != nil {
		return err
	}
	if u.cache != nil {
		u.cache.Invalidate()
	}
	u.logger.Info("deleted collection", "collection", name)
	return nil
}

// Default returns the first collection by name, used when a query names
// none.
func (u *CollectionsUseCase) Default(ctx context.Context) (string, error) {
	infos, err := u.store.ListCollections(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", fmt.Errorf("%w: no collections have been uploaded yet", domain.ErrCollectionNotFound)
	}
	return infos[0].Name, nil
}
