package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/md2backlog/internal"
	"github.com/starford/md2backlog/internal/syncer"
	pkgconfig "github.com/starford/md2backlog/pkg/config"
)

var version = "dev"

func loadApp(cmd *cli.Command) (*internal.App, error) {
	cfg := &internal.Config{}
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		if err := cfg.App.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", lvl, err)
		}
	}

	app, err := internal.New(
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	)
	if err != nil {
		return nil, fmt.Errorf("app init error: %w", err)
	}
	return app, nil
}

func withApp(fn func(ctx context.Context, cmd *cli.Command, app *internal.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(ctx, cmd, app)
	}
}

func put(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return errors.New("put: at least one file is required")
	}
	results, err := app.Put(ctx, paths, cmd.Bool("dry-run"))
	for _, r := range results {
		printPut(r)
	}
	return err
}

func printPut(r *syncer.PutResult) {
	switch r.Status {
	case syncer.StatusDryRun:
		fmt.Printf("%s: dry run (%s)\n", r.Document.SourcePath, r.Document.Title)
		for _, a := range r.Plan.Delete {
			fmt.Printf("  delete attachment %s\n", a.Name)
		}
		for _, a := range r.Plan.Upload {
			fmt.Printf("  upload %s\n", a.Path)
		}
		if r.Diff != "" {
			fmt.Println(r.Diff)
		} else {
			fmt.Println(r.Content)
		}
	case syncer.StatusUnchanged:
		fmt.Printf("%s: no difference, not updated\n", r.Document.SourcePath)
	default:
		fmt.Printf("%s: %s %s %s\n", r.Document.SourcePath, r.Status, r.Document.ID, r.Document.URL)
	}
}

func fetch(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	if ref := cmd.Args().First(); ref != "" {
		d, err := app.FetchOne(ctx, ref)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", d.ID, d.SourcePath)
		return nil
	}
	res, err := app.FetchAll(ctx, cmd.Bool("index"))
	if err != nil {
		return err
	}
	for _, d := range res.Documents {
		fmt.Printf("%s %s\n", d.ID, d.SourcePath)
	}
	if res.IndexPath != "" {
		fmt.Printf("index %s\n", res.IndexPath)
	}
	return nil
}

func status(_ context.Context, _ *cli.Command, app *internal.App) error {
	states, err := app.Status()
	if err != nil {
		return err
	}
	for _, s := range states {
		fmt.Printf("%-9s %-12s %s\n", s.State, s.ID, s.Path)
	}
	return nil
}

func initEnv(_ context.Context, cmd *cli.Command) error {
	if err := internal.WriteEnvTemplate(".env", cmd.Bool("force")); err != nil {
		return err
	}
	fmt.Println(".env created, edit it before the first put")
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "md2backlog",
		Usage:   "Keep local Markdown documents and Backlog issues in sync",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override app.log_level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "Create or update the issues mirrored by local documents",
				ArgsUsage: "FILE...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "Show what would be sent without writing anything"},
				},
				Action: withApp(put),
			},
			{
				Name:      "fetch",
				Usage:     "Write remote issues to the local collection",
				ArgsUsage: "[KEY-N | /view/KEY-N | URL]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "index", Aliases: []string{"i"}, Usage: "Also write the index document"},
				},
				Action: withApp(fetch),
			},
			{
				Name:   "status",
				Usage:  "List local documents with their sync state",
				Action: withApp(status),
			},
			{
				Name:   "watch",
				Usage:  "Put documents as they are saved",
				Action: withApp(func(ctx context.Context, _ *cli.Command, app *internal.App) error { return app.Watch(ctx) }),
			},
			{
				Name:   "mcp",
				Usage:  "Serve the sync tools over MCP on stdin/stdout",
				Action: withApp(func(ctx context.Context, _ *cli.Command, app *internal.App) error { return app.ServeMCP(ctx) }),
			},
			{
				Name:  "init",
				Usage: "Write a .env template",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Overwrite an existing .env"},
				},
				Action: initEnv,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
