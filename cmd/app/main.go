package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/tubestack/internal"
	"github.com/starford/tubestack/internal/runner"
	pkgconfig "github.com/starford/tubestack/pkg/config"
)

var version = "dev"

// exampleConfig reads every secret from the environment, so it serves as the
// config when the default file has not been created.
const exampleConfig = "config/config.example.yaml"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")
	fallback := ""
	if !cmd.IsSet("config") {
		fallback = exampleConfig
	}

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(configPath, fallback, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithConfigPath(configPath),
		internal.WithVersion(version),
	}, nil
}

func syncAction(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	req := runner.Request{
		ForceResync: cmd.Bool("force-resync"),
		DryRun:      cmd.Bool("dry-run"),
	}
	if err := internal.Sync(ctx, req, opts...); err != nil {
		return fmt.Errorf("sync error: %w", err)
	}
	return nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Serve(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcpAction(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func historyAction(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	// Keep the table readable.
	opts = append(opts, internal.WithLogOutput(os.Stderr))
	return internal.History(ctx, int(cmd.Int("limit")), opts...)
}

func syncFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "force-resync",
			Usage: "Delete every page and chapter in the book before syncing",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Report what would change without writing to BookStack",
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "tubestack",
		Usage:   "Mirror a YouTube channel's playlists and uploads into a BookStack book",
		Version: version,
		Action:  syncAction,
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
				Name:   "sync",
				Usage:  "Run a single synchronization",
				Flags:  syncFlags(),
				Action: syncAction,
			},
			{
				Name:   "serve",
				Usage:  "Run the scheduler and the HTTP API",
				Action: serveAction,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcpAction,
			},
			{
				Name:  "history",
				Usage: "Print recent sync runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of runs to show",
						Value: 20,
					},
				},
				Action: historyAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
