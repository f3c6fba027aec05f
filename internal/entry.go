// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/jmtorr3/blog/internal/api"
	"github.com/jmtorr3/blog/internal/sse"
	"github.com/jmtorr3/blog/internal/storage"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}

	cfg, logger := app.config, app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_root", cfg.Storage.Root),
		slog.String("url_prefix", cfg.Storage.URLPrefix),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := open(ctx, app)
	if err != nil {
		return err
	}
	defer c.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	r := NewHTTPHandler(c, broker)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start storage watcher with SSE callback.
	g.Go(func() error {
		err := storage.Watch(gCtx, c.Files.Root(), logger, func(kind, path string) {
			broker.PublishFileEvent(kind, path)
		})
		if err != nil {
			logger.Warn("storage watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// NewHTTPHandler builds the root router: health checks, the REST API under
// /api and media bytes under both public URL forms.
func NewHTTPHandler(c *Components, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := c.DB.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(c.Posts, c.Media, c.Auth, broker, broker))

	layout := c.Config.Storage.Layout()
	files := api.MediaFiles(c.Files)
	r.Get(layout.URLPrefix+"/*", files)
	if layout.SitePrefix != "" {
		r.Get(layout.SitePrefix+layout.URLPrefix+"/*", files)
	}
	return r
}
