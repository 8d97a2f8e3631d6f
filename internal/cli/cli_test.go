package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvsearch/config"
	"csvsearch/internal/adapter/fs"
	"csvsearch/internal/domain"
)

const partsCSV = `Part_No,Object_Text,Brand
BP100,Front brake pad set worn,Bosch
AF200,Cabin air filter,Mann
OF300,Engine oil filter,
`

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "csvsearch.yaml")
	body := "store:\n  backend: bolt\n  data_dir: " + filepath.Join(dir, "data") + "\n" +
		"embedding:\n  provider: hashing\n  dimension: 384\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_IngestQueryDelete(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	csvPath := filepath.Join(dir, "Brake Parts.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(partsCSV), 0o644))

	out, err := run(t, "--config", cfgPath, "ingest", "--quiet", csvPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "brake_parts: 3 rows")

	out, err = run(t, "--config", cfgPath, "query", "-c", "brake_parts", "-q", "worn brake pad", "-k", "2", "--json")
	require.NoError(t, err, out)
	var res domain.QueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	require.NotEmpty(t, res.Rows)
	assert.Equal(t, "BP100", res.Rows[0].Metadata["Part_No"])

	out, err = run(t, "--config", cfgPath, "collections", "list")
	require.NoError(t, err, out)
	assert.Contains(t, out, "brake_parts")
	assert.Contains(t, out, "Brake Parts.csv")

	out, err = run(t, "--config", cfgPath, "collections", "delete", "brake_parts")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Collection 'brake_parts' deleted successfully")

	_, err = run(t, "--config", cfgPath, "collections", "delete", "brake_parts")
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func TestCLI_IngestReportsFailedFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("Part_No\nBP100\n"), 0o644))

	out, err := run(t, "--config", cfgPath, "ingest", "--quiet", bad)
	require.Error(t, err)
	assert.Contains(t, out, "failed at validate")
}

func TestCLI_CheckModel(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())
	out, err := run(t, "--config", cfgPath, "check-model")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Model hashing-v1 is ready (384 dimensions)")
}

func TestCLI_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "csvsearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: mongo\n"), 0o644))

	_, err := run(t, "--config", path, "collections", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestCLI_Init(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, "--dir", dir, "init", "--toml")
	require.NoError(t, err, out)
	path := filepath.Join(dir, "csvsearch.toml")
	assert.Contains(t, out, path)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Embedding.Timeout, loaded.Embedding.Timeout)
	assert.Equal(t, config.DefaultConfig().Server.Addr, loaded.Server.Addr)

	_, err = run(t, "--dir", dir, "init", "--toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	for _, name := range []string{"a.csv", "nested/b.csv", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("Object_Text\nx\n"), 0o644))
	}

	walker := fs.NewWalker(nil, nil)
	files, err := collectFiles(walker, []string{dir, filepath.Join(dir, "a.csv")})
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		rel, _ := filepath.Rel(dir, f.Path)
		names = append(names, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{"a.csv", "nested/b.csv"}, names)
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		500 * time.Millisecond:        "<1s",
		42 * time.Second:              "42s",
		3*time.Minute + 5*time.Second: "3m5s",
		2*time.Hour + 7*time.Minute:   "2h7m",
	}
	for d, want := range tests {
		assert.Equal(t, want, formatDuration(d))
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Bremsbeläge", truncate("Bremsbeläge", 11))
	assert.Equal(t, "Bremsbelä...", truncate("Bremsbeläge vorne", 9))
	assert.Equal(t, "тормоз...", truncate("тормозные колодки", 6))
}

func TestCLI_Bench(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	csvPath := filepath.Join(dir, "parts.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(partsCSV), 0o644))

	_, err := run(t, "--config", cfgPath, "ingest", "--quiet", csvPath)
	require.NoError(t, err)

	out, err := run(t, "--config", cfgPath, "bench", "-c", "parts", "-q", "worn brake pad", "-k", "3", "-n", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Collection: parts (3 records, cosine)")
	assert.Contains(t, out, "1. [HIGH")
	assert.Contains(t, out, "LATENCY (2 runs)")
}

func TestRatingAndLatencyStats(t *testing.T) {
	assert.Equal(t, "HIGH", rating(0.9))
	assert.Equal(t, "GOOD", rating(0.6))
	assert.Equal(t, "OK", rating(0.4))
	assert.Equal(t, "LOW", rating(0.1))
	assert.Contains(t, qualityStatus(0.2), "POOR")

	lo, mean, hi := latencyStats([]time.Duration{3 * time.Millisecond, time.Millisecond, 2 * time.Millisecond})
	assert.Equal(t, time.Millisecond, lo)
	assert.Equal(t, 2*time.Millisecond, mean)
	assert.Equal(t, 3*time.Millisecond, hi)
}
