package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/config"
	registrymigrate "github.com/fableforge/chronicle/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/fableforge/chronicle/internal/plugin/store/postgres"
	_ "github.com/fableforge/chronicle/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("CHRONICLE_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("CHRONICLE_DB_KIND"),
				Usage:   "Store backend (postgres|sqlite)",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "embedding-kind",
				Sources: cli.EnvVars("CHRONICLE_EMBEDDING_KIND"),
				Usage:   "Embedding provider; sizes the vector column",
				Value:   "hashing",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.EmbedType = cmd.String("embedding-kind")
			cfg.DatastoreMigrateAtStart = true
			if err := cfg.ApplyFromEnv(); err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
