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

// CreateEpisode inserts the episode, upserts its embedding, and marks the
// consumed session memories processed in one transaction, so no event is ever
// half-consumed and no episode exists without its source events flagged.
func (s *Store) CreateEpisode(ctx context.Context, ep *model.EpisodeMemory, embedding []float32, consumed []uuid.UUID) error {
	if ep.ID == uuid.Nil {
		ep.ID = uuid.New()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ep).Error; err != nil {
			return fmt.Errorf("create episode: %w", err)
		}
		if len(embedding) > 0 {
			if err := s.vectors.Upsert(tx, VectorKindEpisode, ep.ID, embedding); err != nil {
				return fmt.Errorf("upsert episode vector: %w", err)
			}
		}
		if len(consumed) > 0 {
			// Compare-and-swap on the processed flag: a racing condense
			// that already consumed any of these rows makes the count
			// fall short and rolls the whole episode back.
			result := tx.Model(&model.SessionMemory{}).
				Where("id IN ? AND processed = ?", consumed, false).
				Update("processed", true)
			if result.Error != nil {
				return fmt.Errorf("mark consumed events: %w", result.Error)
			}
			if result.RowsAffected != int64(len(consumed)) {
				return &store.ConflictError{
					Code:    "already_condensed",
					Message: fmt.Sprintf("expected to consume %d events, found %d unprocessed", len(consumed), result.RowsAffected),
				}
			}
		}
		return nil
	})
}

// GetEpisode retrieves an episode by ID.
func (s *Store) GetEpisode(ctx context.Context, id uuid.UUID) (*model.EpisodeMemory, error) {
	var ep model.EpisodeMemory
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&ep)
	if result.Error != nil {
		return nil, fmt.Errorf("get episode: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &store.NotFoundError{Resource: "episode", ID: id.String()}
	}
	return &ep, nil
}

// ListEpisodes returns episodes, newest first, optionally scoped to a session.
func (s *Store) ListEpisodes(ctx context.Context, sessionID string, limit int) ([]model.EpisodeMemory, error) {
	db := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if sessionID != "" {
		db = db.Where("session_id = ?", sessionID)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	var eps []model.EpisodeMemory
	if err := db.Find(&eps).Error; err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	return eps, nil
}

// SearchEpisodes returns episodes ranked by cosine similarity to the query
// embedding. Candidates below minScore are dropped.
func (s *Store) SearchEpisodes(ctx context.Context, embedding []float32, limit int, minScore float64) ([]store.ScoredEpisode, error) {
	hits, err := s.vectors.Search(s.db.WithContext(ctx), VectorKindEpisode, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("search episode vectors: %w", err)
	}
	out := make([]store.ScoredEpisode, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < minScore {
			continue
		}
		ep, err := s.GetEpisode(ctx, hit.OwnerID)
		if err != nil {
			continue // vector row outlived its episode
		}
		out = append(out, store.ScoredEpisode{Episode: *ep, Score: hit.Score})
	}
	return out, nil
}

// ExpireEpisodes hard-deletes unpromoted episodes whose TTL has elapsed,
// together with their vector rows. Promoted episodes are kept as canon
// provenance regardless of expiry.
func (s *Store) ExpireEpisodes(ctx context.Context, now time.Time) (int64, error) {
	var ids []uuid.UUID
	if err := s.db.WithContext(ctx).
		Model(&model.EpisodeMemory{}).
		Where("promoted_to_world = ? AND expires_at IS NOT NULL AND expires_at <= ?", false, now).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.vectors.Delete(tx, VectorKindEpisode, ids); err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&model.EpisodeMemory{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
