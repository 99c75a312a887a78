package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/pressroom/internal"
	"github.com/starford/pressroom/internal/api"
	pkgconfig "github.com/starford/pressroom/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if owner := cmd.String("owner"); owner != "" {
		cfg.MCP.OwnerID = owner
	}

	if err := internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

func issueToken(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Auth.Mode != api.AuthJWT {
		return fmt.Errorf("auth.mode is %q; tokens are only accepted in %q mode", cfg.Auth.Mode, api.AuthJWT)
	}

	token, err := api.IssueToken(cfg.Auth.API(), cmd.String("owner"), cmd.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.Root().Writer, token)
	return nil
}

func runImport(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.Args().First()
	if dir == "" {
		return fmt.Errorf("import: directory argument is required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{internal.WithConfig(cfg), internal.WithVersion(version)}
	if cmd.Bool("watch") {
		if err := internal.WatchImports(ctx, dir, cmd.String("owner"), opts...); err != nil {
			return fmt.Errorf("import: %w", err)
		}
		return nil
	}

	report, err := internal.RunImport(ctx, dir, cmd.String("owner"), opts...)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("import: %d of %d files failed", report.Failed, report.Failed+report.Imported)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "pressroom",
		Usage:   "Draft articles and publish them to a WordPress-compatible CMS",
		Version: version,
		Action:  run,
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
				Usage:  "Run the HTTP API and the scheduler",
				Action: run,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: runMCP,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "owner",
						Usage: "Owner the tools act as (overrides mcp.owner_id)",
					},
				},
			},
			{
				Name:      "import",
				Usage:     "Create articles from HTML files with YAML frontmatter",
				ArgsUsage: "<dir>",
				Action:    runImport,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "owner",
						Usage: "Owner of the imported articles (defaults to auth.default_owner)",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Keep running and import files as they appear",
					},
				},
			},
			{
				Name:   "token",
				Usage:  "Print a signed bearer token for an owner",
				Action: issueToken,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "owner",
						Usage:    "Owner id placed in the sub claim",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Token lifetime; zero means no expiry",
						Value: 24 * time.Hour,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
