// Command echomood runs the EchoMood web application and its maintenance tasks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/echomood/echomood/internal/config"
	"github.com/echomood/echomood/internal/db"
	"github.com/echomood/echomood/internal/logging"
	"github.com/echomood/echomood/internal/web"
)

func main() {
	root := &cli.Command{
		Name:  "echomood",
		Usage: "Mood and personality insights from your Spotify listening",
		Flags: serveFlags(),
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			ingestCommand(),
		},
		Action: runServe,
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "addr", Usage: "HTTP listen address (overrides ECHOMOOD_ADDR)"},
		&cli.BoolFlag{Name: "migrate", Usage: "apply database migrations before serving"},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP server",
		Flags:  serveFlags(),
		Action: runServe,
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.UsesMemoryStore() {
				return errors.New("DATABASE_URL is not set")
			}
			logger := logging.New(cfg.Env, cfg.LogLevel)

			database, err := db.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.Migrate(ctx); err != nil {
				return err
			}
			logger.Info().Msg("migrations applied")
			return nil
		},
	}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Fetch and classify the top tracks of one user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "identity id"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.UsesMemoryStore() {
				return errors.New("DATABASE_URL is not set; the in-memory store has no users to ingest")
			}
			logger := logging.New(cfg.Env, cfg.LogLevel)

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.ingest.Ingest(ctx, c.String("user"))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res.MoodCounts)
		},
	}
}

func runServe(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Addr = addr
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if c.Bool("migrate") {
		database, ok := a.store.(*db.DB)
		if !ok {
			return errors.New("--migrate needs DATABASE_URL")
		}
		if err := database.Migrate(ctx); err != nil {
			return err
		}
	}

	server, err := web.NewServer(web.ServerConfig{
		Addr:          cfg.Addr,
		Store:         a.store,
		OAuth:         a.provider,
		Profiles:      a.profile,
		Pending:       a.pending,
		Identity:      a.identity,
		Ingest:        a.ingest,
		Friends:       a.friends,
		Insights:      a.insights,
		Logger:        logger,
		SecureCookies: cfg.Env != "local",
		WriteTimeout:  cfg.WriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return server.Run(ctx)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
