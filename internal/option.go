package internal

import (
	"errors"
	"log/slog"
	"os"
)

var errConfigRequired = errors.New("config is required")

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	logger *slog.Logger
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the JSON stdout logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, errConfigRequired
	}
	if app.logger == nil {
		app.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
	}
	return app, nil
}
