package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/config"
	"github.com/fableforge/chronicle/internal/model"
	registryembed "github.com/fableforge/chronicle/internal/registry/embed"
	registrymigrate "github.com/fableforge/chronicle/internal/registry/migrate"
	registrystore "github.com/fableforge/chronicle/internal/registry/store"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	_ "github.com/fableforge/chronicle/internal/plugin/embed/disabled"
	_ "github.com/fableforge/chronicle/internal/plugin/embed/hashing"
	_ "github.com/fableforge/chronicle/internal/plugin/embed/openai"
	_ "github.com/fableforge/chronicle/internal/plugin/store/postgres"
	_ "github.com/fableforge/chronicle/internal/plugin/store/sqlite"
)

// Command returns the seed sub-command. It loads world memories from a JSON
// file straight into the canon, bypassing the promotion pipeline. Intended
// for boot-strapping a fresh world from authored lore.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load world memories from a JSON file into the canon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Path to a JSON file containing an array of world memories",
				Required: true,
			},
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
				Usage:   "Embedding provider",
				Value:   "hashing",
			},
			&cli.StringFlag{
				Name:    "openai-api-key",
				Sources: cli.EnvVars("CHRONICLE_OPENAI_API_KEY", "OPENAI_API_KEY"),
				Usage:   "OpenAI API key for the openai embedding provider",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.EmbedType = cmd.String("embedding-kind")
			cfg.OpenAIAPIKey = cmd.String("openai-api-key")
			if err := cfg.ApplyFromEnv(); err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)
			return run(ctx, &cfg, cmd.String("file"))
		},
	}
}

func run(ctx context.Context, cfg *config.Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var memories []model.WorldMemory
	if err := json.Unmarshal(raw, &memories); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(memories) == 0 {
		log.Warn("Seed file contains no world memories", "file", path)
		return nil
	}

	if err := registrymigrate.RunAll(ctx); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	for i := range memories {
		mem := &memories[i]
		if mem.Title == "" || mem.Description == "" {
			return fmt.Errorf("seed entry %d: title and description are required", i)
		}
		if mem.ID == uuid.Nil {
			mem.ID = uuid.New()
		}
		if mem.Category == "" {
			mem.Category = "lore"
		}
		if mem.Impact == "" {
			mem.Impact = model.ImpactMinor
		}
		if mem.CreatedAt.IsZero() {
			mem.CreatedAt = time.Now()
		}

		embedding, err := registryembed.EmbedText(ctx, embedder, mem.Title+"\n"+mem.Description+"\n"+mem.Narrative)
		if err != nil {
			log.Warn("Failed to embed seed entry; storing without vector", "title", mem.Title, "err", err)
			embedding = nil
		}
		if err := store.CreateWorldMemory(ctx, mem, embedding); err != nil {
			return fmt.Errorf("failed to store %q: %w", mem.Title, err)
		}
		log.Info("Seeded world memory", "title", mem.Title, "category", mem.Category)
	}

	log.Info("Seeding complete", "count", len(memories))
	return nil
}
