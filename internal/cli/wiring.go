package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"csvsearch/config"
	"csvsearch/internal/adapter/cache"
	"csvsearch/internal/adapter/embedding"
	"csvsearch/internal/adapter/memstore"
	"csvsearch/internal/adapter/sqlitestore"
	"csvsearch/internal/adapter/store"
	"csvsearch/internal/port"
	"csvsearch/internal/usecase"
)

// app holds the adapters and use cases shared by the subcommands.
type app struct {
	store       port.CollectionStore
	embedder    port.Embedder
	cache       *cache.QueryCache
	ingest      *usecase.IngestUseCase
	query       *usecase.QueryUseCase
	collections *usecase.CollectionsUseCase
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	emb, err := newEmbedder(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	var qc *cache.QueryCache
	if cfg.Cache.Enabled {
		qc = cache.NewQueryCache(cfg.Cache.MaxSize, time.Duration(cfg.Cache.TTL))
	}

	a := &app{store: st, embedder: emb, cache: qc}
	a.ingest = usecase.NewIngestUseCase(st, emb, qc, usecase.IngestOptions{
		TextColumn: cfg.Ingest.TextColumn,
		IDColumn:   cfg.Ingest.IDColumn,
		BatchSize:  cfg.Ingest.BatchSize,
		OnExisting: cfg.Ingest.OnExisting,
		Metric:     cfg.Store.Metric,
	}, logger)
	a.query = usecase.NewQueryUseCase(st, emb, qc, usecase.QueryOptions{
		DefaultTopK: cfg.Query.DefaultTopK,
		MaxTopK:     cfg.Query.MaxTopK,
		MinScore:    cfg.Query.MinScore,
	}, logger)
	a.collections = usecase.NewCollectionsUseCase(st, qc, logger)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// checkModel verifies the embedding model answers and knows its dimension.
func (a *app) checkModel(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := a.embedder.Ping(ctx); err != nil {
		return err
	}
	if a.embedder.Dimension() <= 0 {
		return fmt.Errorf("model %s reported no embedding dimension", a.embedder.ModelName())
	}
	return nil
}

func openStore(cfg *config.Config) (port.CollectionStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memstore.NewMemoryStore(), nil
	case "bolt", "sqlite":
		if err := cfg.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}

	path := cfg.StorePath()
	if cfg.Store.Backend == "sqlite" {
		st, err := sqlitestore.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store %s: %w", path, err)
		}
		return st, nil
	}
	st, err := store.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store %s: %w", path, err)
	}
	return st, nil
}

func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	e := cfg.Embedding
	switch e.Provider {
	case "ollama":
		return embedding.NewOllamaEmbedder(e.Model, e.BaseURL, e.Dimension, time.Duration(e.Timeout)), nil
	case "openai":
		emb, err := embedding.NewOpenAICompatibleEmbedder(e.APIKeyEnv, e.Model, e.BaseURL, e.Dimension, time.Duration(e.Timeout))
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		return emb, nil
	case "hashing":
		return embedding.NewHashingEmbedder(e.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", e.Provider)
	}
}
