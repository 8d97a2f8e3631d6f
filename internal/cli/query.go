package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"csvsearch/internal/usecase"
)

var (
	queryCollection string
	queryText       string
	queryTopK       int
	queryFields     []string
	queryJSON       bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search a collection",
	Long: `Find the rows of a collection closest in meaning to a question.

Examples:
  csvsearch query -c parts -q "worn brake pad"
  csvsearch query -c parts -q "oil filter" -k 10 --fields Part_No,Brand --json`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryCollection, "collection", "c", "", "collection to search (default is the first by name)")
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().StringSliceVar(&queryFields, "fields", nil, "metadata columns to return (default all)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	_ = queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(GetConfig(), GetLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	name := queryCollection
	if name == "" {
		name, err = a.collections.Default(ctx)
		if err != nil {
			return err
		}
	}

	if err := a.checkModel(ctx, time.Duration(GetConfig().Embedding.Timeout)); err != nil {
		return fmt.Errorf("model check failed: %w", err)
	}

	res, err := a.query.Query(ctx, usecase.QueryRequest{
		Collection: name,
		Question:   queryText,
		TopK:       queryTopK,
		Fields:     queryFields,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if queryJSON {
		output, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(out, string(output))
		return nil
	}

	if len(res.Rows) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	fmt.Fprintf(out, "Found %d results in %s for: %s\n\n", len(res.Rows), res.Collection, res.Question)
	for i, r := range res.Rows {
		fmt.Fprintf(out, "--- [%d] %s (score: %.3f) ---\n", i+1, r.ID, r.Score)
		fmt.Fprintln(out, truncate(r.Text, 500))
		if len(r.Metadata) > 0 {
			keys := make([]string, 0, len(r.Metadata))
			for k := range r.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, len(keys))
			for j, k := range keys {
				pairs[j] = k + "=" + r.Metadata[k]
			}
			fmt.Fprintln(out, strings.Join(pairs, "  "))
		}
		fmt.Fprintln(out)
	}
	return nil
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
