package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"csvsearch/internal/adapter/fs"
	"csvsearch/internal/server"
	"csvsearch/internal/watch"
)

var (
	serveAddr  string
	serveWatch string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the HTTP server with the search page, the upload page and the JSON API.
The embedding model is checked before listening; if it cannot be reached the
command exits with an error.

Examples:
  csvsearch serve
  csvsearch serve --addr 127.0.0.1:9000 --watch ./inbox`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().StringVar(&serveWatch, "watch", "", "also ingest CSV files dropped into this directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := GetLogger()
	ctx := cmd.Context()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.checkModel(ctx, time.Duration(cfg.Embedding.Timeout)); err != nil {
		logger.Error("embedding model check failed", "provider", cfg.Embedding.Provider, "model", cfg.Embedding.Model, "err", err)
		return fmt.Errorf("model check failed: %w", err)
	}
	logger.Info("embedding model ready", "model", a.embedder.ModelName(), "dimension", a.embedder.Dimension())

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := server.New(a.ingest, a.query, a.collections, a.embedder.ModelName(), server.Options{
		MaxUploadBytes:  int64(cfg.Server.MaxUploadMB) << 20,
		RateLimitRPS:    cfg.Server.RateLimitRPS,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout),
	}, logger)

	watchDir := ""
	if cfg.Watch.Enabled {
		watchDir = cfg.Watch.Dir
	}
	if serveWatch != "" {
		watchDir = serveWatch
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, addr)
	})
	if watchDir != "" {
		w := watch.New(watchDir,
			fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes),
			a.ingest,
			watch.Options{Lock: srv.LockCollection},
			logger)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, ctx.Err()) {
		return err
	}
	return nil
}
