// Package server exposes the ingest and query pipelines over HTTP and serves
// the embedded search and upload pages.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"csvsearch/internal/usecase"
)

//go:embed static
var staticFiles embed.FS

// Options configures the HTTP surface.
type Options struct {
	MaxUploadBytes  int64
	RateLimitRPS    float64 // 0 disables rate limiting
	RateLimitBurst  int
	ShutdownTimeout time.Duration
}

// Server wires the use cases to HTTP handlers.
type Server struct {
	ingest      *usecase.IngestUseCase
	query       *usecase.QueryUseCase
	collections *usecase.CollectionsUseCase
	model       string
	opts        Options
	logger      *slog.Logger
	locks       *keyedMutex
	limiter     *clientLimiter
}

// New creates a server. model is reported by /healthz.
func New(
	ingest *usecase.IngestUseCase,
	query *usecase.QueryUseCase,
	collections *usecase.CollectionsUseCase,
	model string,
	opts Options,
	logger *slog.Logger,
) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ingest:      ingest,
		query:       query,
		collections: collections,
		model:       model,
		opts:        opts,
		logger:      logger,
		locks:       newKeyedMutex(),
	}
	if opts.RateLimitRPS > 0 {
		s.limiter = newClientLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	}
	return s
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()

	static, _ := fs.Sub(staticFiles, "static")
	mux.HandleFunc("GET /{$}", s.page("index.html"))
	mux.HandleFunc("GET /upload", s.page("upload.html"))
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /collections", s.handleListCollections)
	mux.HandleFunc("DELETE /collections/{name}", s.handleDeleteCollection)
	return mux
}

// LockCollection serialises writers to one collection, shared by uploads and
// anything else ingesting alongside the server.
func (s *Server) LockCollection(name string) func() {
	return s.locks.Lock(name)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux()
	if s.limiter != nil {
		h = s.limiter.middleware(h)
	}
	h = recoverMiddleware(h)
	return logMiddleware(s.logger, h)
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Serve(ln)
	}()
	s.logger.Info("server listening", "addr", ln.Addr().String(), "model", s.model)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
