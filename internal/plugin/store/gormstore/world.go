package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateWorldMemory inserts a canonical fact directly (the seeding path).
func (s *Store) CreateWorldMemory(ctx context.Context, mem *model.WorldMemory, embedding []float32) error {
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(mem).Error; err != nil {
			return fmt.Errorf("create world memory: %w", err)
		}
		if len(embedding) > 0 {
			if err := s.vectors.Upsert(tx, VectorKindWorld, mem.ID, embedding); err != nil {
				return fmt.Errorf("upsert world vector: %w", err)
			}
		}
		return nil
	})
}

// PromoteEpisode flips the episode's promoted_to_world flag with a
// compare-and-swap and inserts the world memory row in the same transaction.
// Either both take effect or neither does; a concurrent promotion of the same
// episode loses the CAS and gets ConflictError{Code: "already_promoted"}.
func (s *Store) PromoteEpisode(ctx context.Context, episodeID uuid.UUID, mem *model.WorldMemory, embedding []float32) error {
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.EpisodeMemory{}).
			Where("id = ? AND promoted_to_world = ?", episodeID, false).
			Update("promoted_to_world", true)
		if result.Error != nil {
			return fmt.Errorf("flip promoted flag: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.EpisodeMemory{}).Where("id = ?", episodeID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return &store.NotFoundError{Resource: "episode", ID: episodeID.String()}
			}
			return &store.ConflictError{Code: "already_promoted", Message: fmt.Sprintf("episode %s is already promoted to world memory", episodeID)}
		}
		if err := tx.Create(mem).Error; err != nil {
			return fmt.Errorf("create world memory: %w", err)
		}
		if len(embedding) > 0 {
			if err := s.vectors.Upsert(tx, VectorKindWorld, mem.ID, embedding); err != nil {
				return fmt.Errorf("upsert world vector: %w", err)
			}
		}
		return nil
	})
}

// GetWorldMemory retrieves a world memory by ID.
func (s *Store) GetWorldMemory(ctx context.Context, id uuid.UUID) (*model.WorldMemory, error) {
	var mem model.WorldMemory
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&mem)
	if result.Error != nil {
		return nil, fmt.Errorf("get world memory: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &store.NotFoundError{Resource: "world memory", ID: id.String()}
	}
	return &mem, nil
}

// ListWorldMemories returns the full current world memory set, oldest first.
func (s *Store) ListWorldMemories(ctx context.Context) ([]model.WorldMemory, error) {
	var mems []model.WorldMemory
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&mems).Error; err != nil {
		return nil, fmt.Errorf("list world memories: %w", err)
	}
	return mems, nil
}

// SearchWorldMemories returns world memories ranked by cosine similarity to
// the query embedding. Candidates below minScore are dropped.
func (s *Store) SearchWorldMemories(ctx context.Context, embedding []float32, limit int, minScore float64) ([]store.ScoredWorldMemory, error) {
	hits, err := s.vectors.Search(s.db.WithContext(ctx), VectorKindWorld, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("search world vectors: %w", err)
	}
	out := make([]store.ScoredWorldMemory, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < minScore {
			continue
		}
		mem, err := s.GetWorldMemory(ctx, hit.OwnerID)
		if err != nil {
			continue // vector row outlived its world memory
		}
		out = append(out, store.ScoredWorldMemory{Memory: *mem, Score: hit.Score})
	}
	return out, nil
}
