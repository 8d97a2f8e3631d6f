package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"csvsearch/internal/adapter/cache"
	"csvsearch/internal/adapter/tabular"
	"csvsearch/internal/domain"
	"csvsearch/internal/port"
)

// Re-upload policies for an existing collection.
const (
	OnExistingUpsert  = "upsert"
	OnExistingReplace = "replace"
)

const (
	DefaultBatchSize = 32
	MaxBatchSize     = 256
)

// IngestOptions configures the ingestion pipeline.
type IngestOptions struct {
	TextColumn string
	IDColumn   string // optional; empty cells fall back to row-<n>
	BatchSize  int
	OnExisting string
	Metric     string
}

// ProgressFunc reports rows written so far out of the rows to ingest.
type ProgressFunc func(done, total int)

// IngestUseCase turns an uploaded CSV file into records of one collection.
type IngestUseCase struct {
	store    port.CollectionStore
	embedder port.Embedder
	cache    *cache.QueryCache
	opts     IngestOptions
	logger   *slog.Logger
}

// NewIngestUseCase creates a new ingest use case. cache may be nil.
func NewIngestUseCase(
	store port.CollectionStore,
	embedder port.Embedder,
	cache *cache.QueryCache,
	opts IngestOptions,
	logger *slog.Logger,
) *IngestUseCase {
	if opts.TextColumn == "" {
		opts.TextColumn = "Object_Text"
	}
	opts.BatchSize = clampBatchSize(opts.BatchSize)
	if opts.OnExisting == "" {
		opts.OnExisting = OnExistingUpsert
	}
	if opts.Metric == "" {
		opts.Metric = domain.MetricCosine
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestUseCase{
		store:    store,
		embedder: embedder,
		cache:    cache,
		opts:     opts,
		logger:   logger,
	}
}

func clampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	default:
		return n
	}
}

// IngestFile ingests the CSV file at path, naming the collection after the
// file's base name.
func (u *IngestUseCase) IngestFile(ctx context.Context, filePath string, progress ProgressFunc) (domain.IngestSummary, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return domain.IngestSummary{}, fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer f.Close()
	return u.Ingest(ctx, f.Name(), f, progress)
}

type pendingRecord struct {
	row      int
	id       string
	text     string
	metadata map[string]string
}

// Ingest parses r as CSV and writes every row with non-empty text to the
// collection derived from filename. Batches already written when a later
// batch fails stay in the store.
func (u *IngestUseCase) Ingest(ctx context.Context, filename string, r io.Reader, progress ProgressFunc) (domain.IngestSummary, error) {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	name := CollectionName(filename)
	summary := domain.IngestSummary{Collection: name, Source: base}

	if !strings.EqualFold(path.Ext(base), ".csv") {
		return summary, &domain.StageError{
			Stage:      domain.StageParse,
			Collection: name,
			Err:        fmt.Errorf("%w: %s is not a .csv file", domain.ErrMalformedFile, base),
		}
	}

	table, err := tabular.Read(r)
	if err != nil {
		return summary, &domain.StageError{Stage: domain.StageParse, Collection: name, Err: err}
	}

	pending, skipped, duplicates, err := u.extract(table)
	if err != nil {
		return summary, &domain.StageError{Stage: domain.StageValidate, Collection: name, Err: err}
	}
	summary.RowsSeen = len(table.Rows)
	summary.RowsSkipped = skipped
	summary.RowsDuplicate = duplicates
	if duplicates > 0 {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf(
			"%d rows repeated an id from column %q; the last row for each id was kept", duplicates, u.opts.IDColumn))
		u.logger.Warn("duplicate record ids", "collection", name, "column", u.opts.IDColumn, "duplicates", duplicates)
	}

	// A failed replace may already have deleted the old collection.
	if u.cache != nil {
		defer u.cache.Invalidate()
	}

	prevSource, existed, err := u.prepareCollection(ctx, name, base)
	if err != nil {
		return summary, err
	}
	summary.Existed = existed
	if existed && prevSource != "" && prevSource != base {
		action := "merged into it"
		if u.opts.OnExisting == OnExistingReplace {
			action = "written in its place"
		}
		summary.Warnings = append(summary.Warnings, fmt.Sprintf(
			"collection %q was created from %q; rows from %q were %s", name, prevSource, base, action))
		u.logger.Warn("collection name collision",
			"collection", name, "existing_source", prevSource, "source", base)
	}

	for start := 0; start < len(pending); start += u.opts.BatchSize {
		end := min(start+u.opts.BatchSize, len(pending))
		if err := u.writeBatch(ctx, name, pending[start:end]); err != nil {
			return summary, err
		}
		summary.Batches++
		summary.RowsIngested += end - start
		if progress != nil {
			progress(summary.RowsIngested, len(pending))
		}
	}

	if skipped > 0 {
		u.logger.Info("skipped rows with empty text", "collection", name, "skipped", skipped)
	}
	u.logger.Info("ingested file",
		"collection", name,
		"source", base,
		"rows", summary.RowsIngested,
		"skipped", summary.RowsSkipped,
		"batches", summary.Batches)

	return summary, nil
}

// extract validates the required column and builds records for rows with
// non-empty text. It returns the number of rows skipped for empty text and
// the number of rows whose id repeats an earlier row's; for a repeated id the
// last row wins and keeps the first row's position.
func (u *IngestUseCase) extract(table *tabular.Table) ([]pendingRecord, int, int, error) {
	textCol := table.Column(u.opts.TextColumn)
	if textCol < 0 {
		return nil, 0, 0, fmt.Errorf("%w: %q (found %s)", domain.ErrMissingColumn, u.opts.TextColumn, strings.Join(table.Header, ", "))
	}
	idCol := -1
	if u.opts.IDColumn != "" {
		idCol = table.Column(u.opts.IDColumn)
	}

	// Metadata keeps the first of any duplicated header names.
	metaCols := make([]int, 0, len(table.Header))
	seen := make(map[string]bool, len(table.Header))
	for i, h := range table.Header {
		if i == textCol || h == "" || seen[h] {
			continue
		}
		seen[h] = true
		metaCols = append(metaCols, i)
	}

	pending := make([]pendingRecord, 0, len(table.Rows))
	index := make(map[string]int, len(table.Rows))
	skipped, duplicates := 0, 0
	for _, row := range table.Rows {
		text := strings.TrimSpace(row.Cell(textCol))
		if text == "" {
			skipped++
			continue
		}

		id := fmt.Sprintf("row-%d", row.Number)
		if idCol >= 0 {
			if v := strings.TrimSpace(row.Cell(idCol)); v != "" {
				id = v
			}
		}

		var metadata map[string]string
		for _, i := range metaCols {
			v := row.Cell(i)
			if v == "" {
				continue
			}
			if metadata == nil {
				metadata = make(map[string]string, len(metaCols))
			}
			metadata[table.Header[i]] = v
		}

		rec := pendingRecord{row: row.Number, id: id, text: text, metadata: metadata}
		if j, ok := index[id]; ok {
			pending[j] = rec
			duplicates++
			continue
		}
		index[id] = len(pending)
		pending = append(pending, rec)
	}
	return pending, skipped, duplicates, nil
}

// prepareCollection creates or replaces the target collection as
// configured. It reports whether the collection already existed and, if so,
// the source file it was created from.
func (u *IngestUseCase) prepareCollection(ctx context.Context, name, source string) (string, bool, error) {
	stageErr := func(stage string, err error) error {
		return &domain.StageError{Stage: stage, Collection: name, Err: err}
	}

	dim := u.embedder.Dimension()
	if dim <= 0 {
		return "", false, stageErr(domain.StageEmbed,
			fmt.Errorf("%w: %s reports no dimension", domain.ErrModelUnavailable, u.embedder.ModelName()))
	}

	newSpec := domain.CollectionSpec{
		Name:      name,
		Dimension: dim,
		Metric:    u.opts.Metric,
		Model:     u.embedder.ModelName(),
		Source:    source,
	}

	info, err := u.store.GetCollection(ctx, name)
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound):
		_, err := u.store.CreateCollection(ctx, newSpec)
		if err != nil {
			return "", false, stageErr(domain.StageStore, err)
		}
		return "", false, nil
	case err != nil:
		return "", false, stageErr(domain.StageStore, err)
	}

	if u.opts.OnExisting == OnExistingReplace {
		if err := u.store.DeleteCollection(ctx, name); err != nil {
			return info.Source, true, stageErr(domain.StageStore, err)
		}
		u.logger.Info("replacing collection", "collection", name, "previous_count", info.Count)
		_, err := u.store.CreateCollection(ctx, newSpec)
		if err != nil {
			return info.Source, true, stageErr(domain.StageStore, err)
		}
		return info.Source, true, nil
	}

	if info.Model != u.embedder.ModelName() || info.Dimension != dim {
		return info.Source, true, stageErr(domain.StageEmbed, fmt.Errorf(
			"%w: collection %s uses %s (%d dims), embedder is %s (%d dims)",
			domain.ErrModelMismatch, name, info.Model, info.Dimension, u.embedder.ModelName(), dim))
	}
	return info.Source, true, nil
}

func (u *IngestUseCase) writeBatch(ctx context.Context, name string, batch []pendingRecord) error {
	firstRow := batch[0].row

	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.text
	}

	vectors, err := u.embedder.Embed(ctx, texts)
	if err != nil {
		return &domain.StageError{Stage: domain.StageEmbed, Collection: name, Row: firstRow, Err: err}
	}

	ids := make([]string, len(batch))
	metadatas := make([]map[string]string, len(batch))
	for i, rec := range batch {
		ids[i] = rec.id
		metadatas[i] = rec.metadata
	}

	if err := u.store.Upsert(ctx, name, ids, vectors, texts, metadatas); err != nil {
		return &domain.StageError{Stage: domain.StageStore, Collection: name, Row: firstRow, Err: err}
	}
	return nil
}
