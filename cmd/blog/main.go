package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/jmtorr3/blog/internal"
	pkgconfig "github.com/jmtorr3/blog/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadIfExists(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:   "blog",
		Usage:  "Blogging backend with block-based posts and per-post media folders",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server (default)",
				Action: serve,
			},
			accountCommand(),
			mediaCommand(),
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: runMCP,
			},
		},
	}
}

func main() {
	cmd := newApp()
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
