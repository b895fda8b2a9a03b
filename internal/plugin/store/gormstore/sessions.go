package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/registry/store"
	"github.com/google/uuid"
)

// CreateSessionMemory inserts a new session memory, assigning an ID and
// creation time when unset.
func (s *Store) CreateSessionMemory(ctx context.Context, mem *model.SessionMemory) error {
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(mem).Error; err != nil {
		return fmt.Errorf("create session memory: %w", err)
	}
	return nil
}

// GetSessionMemory retrieves a session memory by ID.
func (s *Store) GetSessionMemory(ctx context.Context, id uuid.UUID) (*model.SessionMemory, error) {
	var mem model.SessionMemory
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&mem)
	if result.Error != nil {
		return nil, fmt.Errorf("get session memory: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &store.NotFoundError{Resource: "session memory", ID: id.String()}
	}
	return &mem, nil
}

// ListSessionMemories returns session memories for one session. Rows are
// ordered by creation time with the ID as tie-breaker so the transcript order
// is total even when two events share a timestamp.
func (s *Store) ListSessionMemories(ctx context.Context, sessionID string, q store.SessionMemoryQuery) ([]model.SessionMemory, error) {
	db := s.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if q.Processed != nil {
		db = db.Where("processed = ?", *q.Processed)
	}
	if q.MinImportance > 0 {
		db = db.Where("importance >= ?", q.MinImportance)
	}
	if q.NewestFirst {
		db = db.Order("created_at DESC, id DESC")
	} else {
		db = db.Order("created_at ASC, id ASC")
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	var mems []model.SessionMemory
	if err := db.Find(&mems).Error; err != nil {
		return nil, fmt.Errorf("list session memories: %w", err)
	}
	return mems, nil
}

// DeleteSessionMemories removes all memories of a session (session teardown).
func (s *Store) DeleteSessionMemories(ctx context.Context, sessionID string) (int64, error) {
	result := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.SessionMemory{})
	return result.RowsAffected, result.Error
}

// ExpireSessionMemories hard-deletes session memories whose TTL has elapsed.
func (s *Store) ExpireSessionMemories(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&model.SessionMemory{})
	return result.RowsAffected, result.Error
}
