package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"csvsearch/internal/adapter/fs"
	"csvsearch/internal/domain"
	"csvsearch/internal/port"
	"csvsearch/internal/usecase"
)

var (
	ingestOnExisting string
	ingestTextColumn string
	ingestIDColumn   string
	ingestBatchSize  int
	ingestQuiet      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir>...",
	Short: "Ingest CSV files into collections",
	Long: `Ingest one or more CSV files. Each file becomes a collection named after the
file. Directories are searched with the configured include and exclude
patterns.

Examples:
  csvsearch ingest parts.csv
  csvsearch ingest ./exports --on-existing replace`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestOnExisting, "on-existing", "", "upsert or replace an existing collection (default from config)")
	ingestCmd.Flags().StringVar(&ingestTextColumn, "text-column", "", "column holding the text to embed (default from config)")
	ingestCmd.Flags().StringVar(&ingestIDColumn, "id-column", "", "column holding a stable record id")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "rows per embedding call (default from config)")
	ingestCmd.Flags().BoolVar(&ingestQuiet, "quiet", false, "no progress bars")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if ingestOnExisting != "" {
		cfg.Ingest.OnExisting = ingestOnExisting
	}
	if ingestTextColumn != "" {
		cfg.Ingest.TextColumn = ingestTextColumn
	}
	if ingestIDColumn != "" {
		cfg.Ingest.IDColumn = ingestIDColumn
	}
	if ingestBatchSize > 0 {
		cfg.Ingest.BatchSize = ingestBatchSize
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	walker := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)
	files, err := collectFiles(walker, args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no CSV files found in %v", args)
	}

	ctx := cmd.Context()
	a, err := newApp(cfg, GetLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.checkModel(ctx, time.Duration(cfg.Embedding.Timeout)); err != nil {
		return fmt.Errorf("model check failed: %w", err)
	}

	out := cmd.OutOrStdout()
	start := time.Now()
	var failed, ingested, skipped int
	for _, f := range files {
		rel := f.Path
		if wd, err := os.Getwd(); err == nil {
			if r, err := filepath.Rel(wd, f.Path); err == nil {
				rel = r
			}
		}

		var progress usecase.ProgressFunc
		if !ingestQuiet {
			progress = newProgress(rel)
		}

		summary, err := a.ingest.IngestFile(ctx, f.Path, progress)
		if err != nil {
			failed++
			stage := domain.StageOf(err)
			fmt.Fprintf(out, "  %s: failed at %s: %v\n", rel, stage, err)
			continue
		}
		ingested += summary.RowsIngested
		skipped += summary.RowsSkipped
		fmt.Fprintf(out, "  %s -> %s: %d rows", rel, summary.Collection, summary.RowsIngested)
		if summary.RowsSkipped > 0 {
			fmt.Fprintf(out, " (%d without text skipped)", summary.RowsSkipped)
		}
		fmt.Fprintln(out)
		for _, w := range summary.Warnings {
			fmt.Fprintf(out, "    warning: %s\n", w)
		}
	}

	fmt.Fprintf(out, "\nIngest complete in %s:\n", formatDuration(time.Since(start)))
	fmt.Fprintf(out, "  Files:   %d (%d failed)\n", len(files), failed)
	fmt.Fprintf(out, "  Rows:    %d\n", ingested)
	fmt.Fprintf(out, "  Skipped: %d\n", skipped)

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

// collectFiles expands directories with the walker. Files named directly
// are taken as they are.
func collectFiles(walker port.FileWalker, args []string) ([]port.FileInfo, error) {
	var files []port.FileInfo
	seen := make(map[string]bool)
	for _, arg := range args {
		found, err := walker.Walk(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid path %s: %w", arg, err)
		}
		for _, f := range found {
			if seen[f.Path] {
				continue
			}
			seen[f.Path] = true
			files = append(files, f)
		}
	}
	return files, nil
}

// newProgress returns a ProgressFunc drawing a bar once the row total is
// known.
func newProgress(label string) usecase.ProgressFunc {
	var bar *progressbar.ProgressBar
	var startTime time.Time

	return func(done, total int) {
		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]"+label+"[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
				progressbar.OptionSetWriter(os.Stderr),
			)
		}

		_ = bar.Set(done)

		if done > 0 && done < total {
			elapsed := time.Since(startTime)
			rate := float64(done) / elapsed.Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]%s[reset] ETA: %s", label, formatDuration(eta)))
			}
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
