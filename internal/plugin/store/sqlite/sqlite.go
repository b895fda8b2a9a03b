package sqlite

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/config"
	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/plugin/store/gormstore"
	registrymigrate "github.com/fableforge/chronicle/internal/registry/migrate"
	registrystore "github.com/fableforge/chronicle/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.MemoryStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite database: %w", err)
			}
			// Embeddings live in a JSON column; similarity is computed in Go.
			return gormstore.New(db, &gormstore.JSONVectorOps{}), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to open sqlite database: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	log.Info("Sqlite schema migration complete")
	return nil
}

// Migrate creates the schema on an open sqlite database. Exposed so tests can
// migrate in-memory databases directly.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(
		&model.SessionMemory{},
		&model.EpisodeMemory{},
		&model.WorldMemory{},
		&model.MemorySnapshot{},
		&model.MemorySettings{},
		&gormstore.VectorRow{},
	); err != nil {
		return fmt.Errorf("migration: failed to migrate tables: %w", err)
	}
	return nil
}

// ForceImport gives tests and main a way to trigger this package's init.
func ForceImport() {}
