// Package watch ingests CSV files dropped into a directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"csvsearch/internal/adapter/fs"
	"csvsearch/internal/domain"
	"csvsearch/internal/usecase"
)

// Ingester ingests one file from disk.
type Ingester interface {
	IngestFile(ctx context.Context, path string, progress usecase.ProgressFunc) (domain.IngestSummary, error)
}

// LockFunc blocks until the named collection is free and returns its unlock.
type LockFunc func(collection string) func()

type Options struct {
	Debounce time.Duration
	Lock     LockFunc
}

// Watcher ingests matching files once writes to them have settled.
type Watcher struct {
	dir      string
	walker   *fs.Walker
	ingester Ingester
	opts     Options
	logger   *slog.Logger
}

func New(dir string, walker *fs.Walker, ingester Ingester, opts Options, logger *slog.Logger) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, walker: walker, ingester: ingester, opts: opts, logger: logger}
}

// Run watches until ctx is canceled. The directory is created if missing.
func (w *Watcher) Run(ctx context.Context) error {
	dir, err := filepath.Abs(w.dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addWatchDirs(watcher, dir); err != nil {
		return fmt.Errorf("add watch dirs: %w", err)
	}
	w.logger.Info("watching for csv files", "dir", dir, "debounce", w.opts.Debounce)

	pending := make(map[string]struct{})
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					if err := w.addWatchDirs(watcher, event.Name); err != nil {
						w.logger.Warn("watch new dir", "dir", event.Name, "err", err)
					}
					continue
				}
			}
			if !w.shouldHandle(dir, event) {
				continue
			}
			pending[event.Name] = struct{}{}
			fire = time.After(w.opts.Debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)
		case <-fire:
			fire = nil
			w.flush(ctx, pending)
			clear(pending)
		}
	}
}

func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		w.ingest(ctx, p)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	if w.opts.Lock != nil {
		unlock := w.opts.Lock(usecase.CollectionName(path))
		defer unlock()
	}
	summary, err := w.ingester.IngestFile(ctx, path, nil)
	if err != nil {
		w.logger.Error("watch ingest failed", "file", path, "stage", domain.StageOf(err), "err", err)
		return
	}
	w.logger.Info("watch ingested file",
		"file", path,
		"collection", summary.Collection,
		"rows", summary.RowsIngested,
		"skipped", summary.RowsSkipped)
}

// shouldHandle reports whether event is a write or create of a file the
// walker selects.
func (w *Watcher) shouldHandle(root string, event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	rel, err := filepath.Rel(root, event.Name)
	if err != nil {
		return false
	}
	return w.walker.Match(filepath.ToSlash(rel))
}

func (w *Watcher) addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && filepath.Base(path)[0] == '.' {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
