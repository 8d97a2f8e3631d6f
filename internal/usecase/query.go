package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"csvsearch/internal/adapter/cache"
	"csvsearch/internal/domain"
	"csvsearch/internal/port"
)

const (
	DefaultTopK = 5
	MaxTopK     = 50
)

// QueryOptions configures the query pipeline.
type QueryOptions struct {
	DefaultTopK int
	MaxTopK     int
	MinScore    float64 // Filter results below this score (0 = disabled)
}

// QueryRequest is a single natural-language lookup against one collection.
type QueryRequest struct {
	Collection string
	Question   string
	TopK       int      // 0 means the configured default
	Fields     []string // metadata columns to return; empty returns all
}

// QueryUseCase answers questions by nearest-neighbour lookup.
type QueryUseCase struct {
	store    port.CollectionStore
	embedder port.Embedder
	cache    *cache.QueryCache
	opts     QueryOptions
	logger   *slog.Logger
}

// NewQueryUseCase creates a new query use case. cache may be nil.
func NewQueryUseCase(
	store port.CollectionStore,
	embedder port.Embedder,
	cache *cache.QueryCache,
	opts QueryOptions,
	logger *slog.Logger,
) *QueryUseCase {
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = MaxTopK
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = DefaultTopK
	}
	if opts.DefaultTopK > opts.MaxTopK {
		opts.DefaultTopK = opts.MaxTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryUseCase{
		store:    store,
		embedder: embedder,
		cache:    cache,
		opts:     opts,
		logger:   logger,
	}
}

// Query embeds the question and returns the closest records of the
// collection, best first.
func (u *QueryUseCase) Query(ctx context.Context, req QueryRequest) (domain.QueryResult, error) {
	name := req.Collection
	stageErr := func(stage string, err error) error {
		return &domain.StageError{Stage: stage, Collection: name, Err: err}
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return domain.QueryResult{}, stageErr(domain.StageQuery, domain.ErrEmptyQuery)
	}

	k := u.topK(req.TopK)
	fields := canonicalFields(req.Fields)

	var key string
	var gen uint64
	if u.cache != nil {
		key = cache.Key(name, question, k, fields)
		if res, ok := u.cache.Get(key); ok {
			return res, nil
		}
		gen = u.cache.Generation()
	}

	info, err := u.store.GetCollection(ctx, name)
	if err != nil {
		return domain.QueryResult{}, stageErr(domain.StageQuery, err)
	}
	if info.Model != u.embedder.ModelName() || info.Dimension != u.embedder.Dimension() {
		return domain.QueryResult{}, stageErr(domain.StageEmbed, fmt.Errorf(
			"%w: collection %s was built with %s (%d dims), embedder is %s (%d dims)",
			domain.ErrModelMismatch, name, info.Model, info.Dimension, u.embedder.ModelName(), u.embedder.Dimension()))
	}

	vectors, err := u.embedder.Embed(ctx, []string{question})
	if err != nil {
		return domain.QueryResult{}, stageErr(domain.StageEmbed, err)
	}
	if len(vectors) != 1 {
		return domain.QueryResult{}, stageErr(domain.StageEmbed,
			fmt.Errorf("%w: expected 1 vector, got %d", domain.ErrInvalidBatch, len(vectors)))
	}

	matches, err := u.store.Query(ctx, name, vectors[0], k)
	if err != nil {
		return domain.QueryResult{}, stageErr(domain.StageQuery, err)
	}

	result := domain.QueryResult{
		Collection: name,
		Question:   question,
		TopK:       k,
		Rows:       make([]domain.ResultRow, 0, len(matches)),
	}
	for _, m := range matches {
		if u.opts.MinScore > 0 && m.Score < u.opts.MinScore {
			continue
		}
		result.Rows = append(result.Rows, domain.ResultRow{
			ID:       m.Record.ID,
			Text:     m.Record.Text,
			Score:    m.Score,
			Metadata: project(m.Record.Metadata, fields),
		})
	}

	u.logger.Debug("query answered", "collection", name, "k", k, "rows", len(result.Rows))

	if u.cache != nil {
		u.cache.Put(key, gen, result)
		u.logger.Debug("cached query result", "collection", name, "entries", u.cache.Size())
	}
	return result, nil
}

func (u *QueryUseCase) topK(k int) int {
	if k <= 0 {
		return u.opts.DefaultTopK
	}
	if k > u.opts.MaxTopK {
		return u.opts.MaxTopK
	}
	return k
}

func canonicalFields(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func project(metadata map[string]string, fields []string) map[string]string {
	if len(fields) == 0 || metadata == nil {
		return metadata
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := metadata[f]; ok {
			out[f] = v
		}
	}
	return out
}
