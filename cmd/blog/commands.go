package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jmtorr3/blog/internal"
	"github.com/jmtorr3/blog/internal/mcpserver"
)

// openComponents loads the config and wires the services. Command output goes
// to stdout, so logs go to stderr.
func openComponents(ctx context.Context, cmd *cli.Command) (*internal.Components, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	return internal.Open(ctx, internal.WithConfig(cfg), internal.WithLogger(logger))
}

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Manage accounts",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create an account",
				ArgsUsage: "<username>",
				Action:    createAccount,
			},
			{
				Name:   "list",
				Usage:  "List accounts",
				Action: listAccounts,
			},
			{
				Name:      "token",
				Usage:     "Issue a bearer token for an account (auth mode jwt)",
				ArgsUsage: "<username>",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Token lifetime",
						Value: 30 * 24 * time.Hour,
					},
				},
				Action: issueToken,
			},
		},
	}
}

func mediaCommand() *cli.Command {
	return &cli.Command{
		Name:  "media",
		Usage: "Inspect and repair stored media",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "Report every media record with its location and totals",
				Flags:  []cli.Flag{jsonFlag()},
				Action: listMedia,
			},
			{
				Name:   "repair",
				Usage:  "Move media attached to a post into the post's folder",
				Flags:  []cli.Flag{jsonFlag()},
				Action: repairMedia,
			},
			{
				Name:  "orphans",
				Usage: "Find media files no record references",
				Flags: []cli.Flag{
					jsonFlag(),
					&cli.BoolFlag{
						Name:  "delete",
						Usage: "Delete the orphaned files",
					},
				},
				Action: findOrphans,
			},
		},
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Print JSON instead of a table"}
}

func usernameArg(cmd *cli.Command) (string, error) {
	username := cmd.Args().First()
	if username == "" {
		return "", errors.New("username argument is required")
	}
	return username, nil
}

func createAccount(ctx context.Context, cmd *cli.Command) error {
	username, err := usernameArg(cmd)
	if err != nil {
		return err
	}
	c, err := openComponents(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	a, err := c.DB.CreateAccount(ctx, username)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "created account %s (%s)\n", a.Username, a.ID)
	return nil
}

func listAccounts(ctx context.Context, cmd *cli.Command) error {
	c, err := openComponents(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	accounts, err := c.DB.ListAccounts(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tID\tCREATED")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Username, a.ID, a.CreatedAt.Format(time.DateOnly))
	}
	return tw.Flush()
}

func issueToken(ctx context.Context, cmd *cli.Command) error {
	username, err := usernameArg(cmd)
	if err != nil {
		return err
	}
	c, err := openComponents(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.DB.AccountByUsername(ctx, username); err != nil {
		return fmt.Errorf("account %s: %w", username, err)
	}
	token, err := c.Auth.IssueToken(username, cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, token)
	return nil
}

func listMedia(ctx context.Context, cmd *cli.Command) error {
	c, err := openComponents(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	rep, err := c.Maintenance.Report(ctx)
	if err != nil {
		return err
	}
	out := cmd.Root().Writer
	if cmd.Bool("json") {
		return printJSON(out, rep)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tPATH\tSIZE\tPOST\tSTATUS")
	for _, e := range rep.Entries {
		status := "ok"
		switch {
		case !e.OnDisk:
			status = "missing"
		case !e.Canonical:
			status = "misplaced"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.Owner, e.StoredPath, e.Size, e.PostSlug, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d records (%d with post, %d without, %d in uploads), %d missing, %d misplaced, %d bytes\n",
		rep.Total, rep.WithPost, rep.WithoutPost, rep.InUploads, rep.Missing, rep.Misplaced, rep.TotalBytes)
	return nil
}

func repairMedia(ctx context.Context, cmd *cli.Command) error {
	c, err := openComponents(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	repaired, err := c.Maintenance.Repair(ctx)
	if err != nil {
		return err
	}
	out := cmd.Root().Writer
	if cmd.Bool("json") {
		return printJSON(out, repaired)
	}
	if len(repaired) == 0 {
		fmt.Fprintln(out, "all media paths are canonical")
		return nil
	}
	for _, r := range repaired {
		line := fmt.Sprintf("%s: %s -> %s", r.Outcome, r.From, r.To)
		if r.Warning != "" {
			line += " (" + r.Warning + ")"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func findOrphans(ctx context.Context, cmd *cli.Command) error {
	c, err := openComponents(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	orphans, err := c.Maintenance.Orphans(ctx, cmd.Bool("delete"))
	if err != nil {
		return err
	}
	out := cmd.Root().Writer
	if cmd.Bool("json") {
		return printJSON(out, orphans)
	}
	if len(orphans) == 0 {
		fmt.Fprintln(out, "no orphaned files")
		return nil
	}
	var total int64
	for _, o := range orphans {
		mark := ""
		if o.Deleted {
			mark = " (deleted)"
		}
		fmt.Fprintf(out, "%s\t%d%s\n", o.Path, o.Size, mark)
		total += o.Size
	}
	fmt.Fprintf(out, "\n%d orphaned files, %d bytes\n", len(orphans), total)
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	c, err := openComponents(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	srv := mcpserver.New(c.DB, c.Posts, c.Media, c.Maintenance)
	return srv.ServeStdio()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
