package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/config"
	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/plugin/store/gormstore"
	registrymigrate "github.com/fableforge/chronicle/internal/registry/migrate"
	registrystore "github.com/fableforge/chronicle/internal/registry/store"
	"github.com/fableforge/chronicle/internal/security"
	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.MemoryStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return gormstore.New(db, &pgVectorOps{}), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != "postgres" {
		return nil // skip if not using postgres
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("migration: failed to enable pgvector: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(
		&model.SessionMemory{},
		&model.EpisodeMemory{},
		&model.WorldMemory{},
		&model.MemorySnapshot{},
		&model.MemorySettings{},
	); err != nil {
		return fmt.Errorf("migration: failed to migrate tables: %w", err)
	}
	createVectors := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS narrative_vectors (
			owner_kind TEXT NOT NULL,
			owner_id UUID NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (owner_kind, owner_id)
		)`, cfg.EmbedDimension())
	if err := db.WithContext(ctx).Exec(createVectors).Error; err != nil {
		return fmt.Errorf("migration: failed to create vector table: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// pgVectorOps stores embeddings in a pgvector column and searches with the
// cosine distance operator.
type pgVectorOps struct{}

func (o *pgVectorOps) Upsert(tx *gorm.DB, ownerKind string, ownerID uuid.UUID, embedding []float32) error {
	vec := pgvec.NewVector(embedding)
	return tx.Exec(`
		INSERT INTO narrative_vectors (owner_kind, owner_id, embedding)
		VALUES (?, ?, ?::vector)
		ON CONFLICT (owner_kind, owner_id)
		DO UPDATE SET embedding = EXCLUDED.embedding`,
		ownerKind, ownerID, vec,
	).Error
}

func (o *pgVectorOps) Delete(tx *gorm.DB, ownerKind string, ownerIDs []uuid.UUID) error {
	if len(ownerIDs) == 0 {
		return nil
	}
	return tx.Exec("DELETE FROM narrative_vectors WHERE owner_kind = ? AND owner_id IN ?", ownerKind, ownerIDs).Error
}

func (o *pgVectorOps) Search(db *gorm.DB, ownerKind string, embedding []float32, limit int) ([]gormstore.Scored, error) {
	if limit <= 0 {
		return nil, nil
	}
	vec := pgvec.NewVector(embedding)
	type row struct {
		OwnerID uuid.UUID `gorm:"column:owner_id"`
		Score   float64   `gorm:"column:score"`
	}
	var rows []row
	err := db.Raw(`
		SELECT owner_id, 1 - (embedding <=> ?::vector) AS score
		FROM narrative_vectors
		WHERE owner_kind = ?
		ORDER BY score DESC
		LIMIT ?`, vec, ownerKind, limit).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	out := make([]gormstore.Scored, len(rows))
	for i, r := range rows {
		out[i] = gormstore.Scored{OwnerID: r.OwnerID, Score: r.Score}
	}
	return out, nil
}

// ForceImport gives tests and main a way to trigger this package's init.
func ForceImport() {}
