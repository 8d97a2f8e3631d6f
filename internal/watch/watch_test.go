package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvsearch/internal/adapter/fs"
	"csvsearch/internal/domain"
	"csvsearch/internal/usecase"
)

type fakeIngester struct {
	paths chan string
}

func (f *fakeIngester) IngestFile(_ context.Context, path string, _ usecase.ProgressFunc) (domain.IngestSummary, error) {
	f.paths <- path
	return domain.IngestSummary{Collection: usecase.CollectionName(path)}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShouldHandle(t *testing.T) {
	w := New("/drop", fs.NewWalker(nil, []string{"**/skip/**"}), nil, Options{}, quietLogger())

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"create csv", fsnotify.Event{Name: "/drop/parts.csv", Op: fsnotify.Create}, true},
		{"write nested csv", fsnotify.Event{Name: "/drop/a/b/parts.csv", Op: fsnotify.Write}, true},
		{"other extension", fsnotify.Event{Name: "/drop/notes.txt", Op: fsnotify.Write}, false},
		{"excluded dir", fsnotify.Event{Name: "/drop/skip/parts.csv", Op: fsnotify.Write}, false},
		{"chmod ignored", fsnotify.Event{Name: "/drop/parts.csv", Op: fsnotify.Chmod}, false},
		{"remove ignored", fsnotify.Event{Name: "/drop/parts.csv", Op: fsnotify.Remove}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.shouldHandle("/drop", tt.event))
		})
	}
}

func TestRun_IngestsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{paths: make(chan string, 8)}

	var mu sync.Mutex
	var locked []string
	lock := func(name string) func() {
		mu.Lock()
		locked = append(locked, name)
		mu.Unlock()
		return func() {}
	}

	w := New(dir, fs.NewWalker(nil, nil), ing, Options{Debounce: 50 * time.Millisecond, Lock: lock}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))
	target := filepath.Join(dir, "Brake Pads.csv")
	require.NoError(t, os.WriteFile(target, []byte("Object_Text\nbrake pad\n"), 0o644))

	select {
	case got := <-ing.paths:
		assert.Equal(t, "Brake Pads.csv", filepath.Base(got))
	case <-time.After(5 * time.Second):
		t.Fatal("dropped file was not ingested")
	}

	mu.Lock()
	assert.Contains(t, locked, "brake_pads")
	mu.Unlock()
}

func TestRun_StopsOnCancel(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "inbox"), fs.NewWalker(nil, nil), &fakeIngester{paths: make(chan string, 1)}, Options{}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
