package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmtorr3/blog/internal/api"
	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/maintenance"
	"github.com/jmtorr3/blog/internal/mediaservice"
	"github.com/jmtorr3/blog/internal/postservice"
	"github.com/jmtorr3/blog/internal/storage"
	"github.com/jmtorr3/blog/internal/store"
)

// Components is the wired set of services shared by the HTTP server, the MCP
// server and the CLI commands.
type Components struct {
	Config      *Config
	Logger      *slog.Logger
	DB          *store.DB
	Files       *storage.FS
	Media       *mediaservice.Service
	Posts       *postservice.Service
	Maintenance *maintenance.Runner
	Auth        *api.Authenticator
}

// Open builds the components described by the configuration. The caller must
// Close the result.
func Open(ctx context.Context, opts ...Option) (*Components, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	return open(ctx, app)
}

func open(ctx context.Context, app *application) (*Components, error) {
	cfg, logger := app.config, app.logger

	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	files, err := storage.NewFS(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	media := mediaservice.New(db, files, cfg.Storage.Layout(),
		mediaservice.WithLogger(logger),
		mediaservice.WithMaxUpload(cfg.Storage.MaxUploadBytes()),
	)
	c := &Components{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Files:  files,
		Media:  media,
		Posts:  postservice.New(db, files, media, postservice.WithLogger(logger)),
		Maintenance: maintenance.New(db, files, media, cfg.Storage.LockPath(),
			maintenance.WithLogger(logger)),
		Auth: api.NewAuthenticator(db, cfg.Auth.JWTSecret(), cfg.Auth.DefaultUser),
	}

	if !cfg.Auth.AuthEnabled() {
		if err := c.ensureAccount(ctx, cfg.Auth.DefaultUser); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return c, nil
}

// ensureAccount creates username unless it already exists.
func (c *Components) ensureAccount(ctx context.Context, username string) error {
	_, err := c.DB.AccountByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("look up default user: %w", err)
	}
	if _, err := c.DB.CreateAccount(ctx, username); err != nil && !errors.Is(err, apperr.ErrConflict) {
		return fmt.Errorf("create default user %s: %w", username, err)
	}
	c.Logger.Info("created default user", slog.String("username", username))
	return nil
}

// Close releases the database handle.
func (c *Components) Close() error {
	return c.DB.Close()
}
