package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"csvsearch/internal/domain"
	"csvsearch/internal/usecase"
)

var (
	benchCollection string
	benchQuery      string
	benchTopK       int
	benchRuns       int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure search quality and latency for one question",
	Long: `Run one question against a collection several times with the query cache
disabled, then report similarity ratings for the matches and end-to-end
latency. Useful when comparing embedding models.

Examples:
  csvsearch bench -c parts -q "worn brake pad"
  csvsearch bench -c parts -q "oil filter" -k 10 -n 20`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().StringVarP(&benchCollection, "collection", "c", "", "collection to search (required)")
	benchCmd.Flags().StringVarP(&benchQuery, "query", "q", "", "question (required)")
	benchCmd.Flags().IntVarP(&benchTopK, "top-k", "k", 10, "number of results")
	benchCmd.Flags().IntVarP(&benchRuns, "runs", "n", 5, "number of timed runs")
	_ = benchCmd.MarkFlagRequired("collection")
	_ = benchCmd.MarkFlagRequired("query")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg := *GetConfig()
	cfg.Cache.Enabled = false

	ctx := cmd.Context()
	a, err := newApp(&cfg, GetLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.checkModel(ctx, time.Duration(cfg.Embedding.Timeout)); err != nil {
		return fmt.Errorf("model check failed: %w", err)
	}
	info, err := a.collections.Get(ctx, benchCollection)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "SEMANTIC SEARCH BENCHMARK")
	fmt.Fprintln(out, strings.Repeat("=", 70))
	fmt.Fprintf(out, "Collection: %s (%d records, %s)\n", info.Name, info.Count, info.Metric)
	fmt.Fprintf(out, "Model:      %s (%d dimensions)\n", a.embedder.ModelName(), a.embedder.Dimension())
	fmt.Fprintf(out, "Query:      %q\n", benchQuery)
	fmt.Fprintln(out, strings.Repeat("-", 70))

	runs := max(benchRuns, 1)
	var durations []time.Duration
	var res domain.QueryResult
	for i := 0; i < runs; i++ {
		start := time.Now()
		r, err := a.query.Query(ctx, usecase.QueryRequest{
			Collection: benchCollection,
			Question:   benchQuery,
			TopK:       benchTopK,
		})
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		durations = append(durations, time.Since(start))
		res = r
	}

	if len(res.Rows) == 0 {
		fmt.Fprintln(out, "No matches.")
		return nil
	}

	total := 0.0
	for i, r := range res.Rows {
		preview := truncate(strings.ReplaceAll(r.Text, "\n", " "), 150)
		total += r.Score
		fmt.Fprintf(out, "%d. [%s %.3f] %s\n", i+1, rating(r.Score), r.Score, r.ID)
		fmt.Fprintf(out, "   %s\n\n", preview)
	}

	avg := total / float64(len(res.Rows))
	lo, mean, hi := latencyStats(durations)
	fmt.Fprintln(out, strings.Repeat("=", 70))
	fmt.Fprintln(out, "QUALITY METRICS:")
	fmt.Fprintf(out, "  Average similarity: %.3f\n", avg)
	fmt.Fprintf(out, "  Top-1 similarity:   %.3f\n", res.Rows[0].Score)
	fmt.Fprintf(out, "  Status: %s\n", qualityStatus(avg))
	fmt.Fprintf(out, "LATENCY (%d runs): min %s  avg %s  max %s\n", runs, lo, mean, hi)
	return nil
}

func rating(score float64) string {
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}

func qualityStatus(avg float64) string {
	switch {
	case avg > 0.5:
		return "GOOD - semantic search working well"
	case avg > 0.3:
		return "OK - results are somewhat related"
	default:
		return "POOR - may need a better embedding model"
	}
}

func latencyStats(ds []time.Duration) (lo, mean, hi time.Duration) {
	if len(ds) == 0 {
		return 0, 0, 0
	}
	lo, hi = ds[0], ds[0]
	var sum time.Duration
	for _, d := range ds {
		lo = min(lo, d)
		hi = max(hi, d)
		sum += d
	}
	return lo, sum / time.Duration(len(ds)), hi
}
