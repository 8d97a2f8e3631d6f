package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var checkModelCmd = &cobra.Command{
	Use:   "check-model",
	Short: "Verify the embedding model is reachable",
	Long: `Embed a probe string with the configured model and report its dimension.
Exits non-zero when the model cannot be reached, which suits container
readiness checks.`,
	Args: cobra.NoArgs,
	RunE: runCheckModel,
}

func init() {
	rootCmd.AddCommand(checkModelCmd)
}

func runCheckModel(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	emb, err := newEmbedder(cfg)
	if err != nil {
		return err
	}

	a := &app{embedder: emb}
	if err := a.checkModel(cmd.Context(), time.Duration(cfg.Embedding.Timeout)); err != nil {
		return fmt.Errorf("model %s (%s) is not ready: %w", cfg.Embedding.Model, cfg.Embedding.Provider, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Model %s is ready (%d dimensions)\n", emb.ModelName(), emb.Dimension())
	return nil
}
