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

// CreateSnapshot inserts a snapshot row.
func (s *Store) CreateSnapshot(ctx context.Context, snap *model.MemorySnapshot) error {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot by ID.
func (s *Store) GetSnapshot(ctx context.Context, id uuid.UUID) (*model.MemorySnapshot, error) {
	var snap model.MemorySnapshot
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&snap)
	if result.Error != nil {
		return nil, fmt.Errorf("get snapshot: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &store.NotFoundError{Resource: "snapshot", ID: id.String()}
	}
	return &snap, nil
}

// ListSnapshots returns snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]model.MemorySnapshot, error) {
	db := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	var snaps []model.MemorySnapshot
	if err := db.Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

// UnwindWorldSet applies a snapshot restoration: stamp the snapshot as
// unwound with a compare-and-swap, re-create the missing world rows, and
// delete the rows added since the snapshot, all in one transaction. Losing
// the CAS (a concurrent or repeated unwind) yields
// ConflictError{Code: "already_unwound"} and leaves the world untouched.
func (s *Store) UnwindWorldSet(ctx context.Context, snapshotID uuid.UUID, actorID string, restore []store.RestoredWorld, removeIDs []uuid.UUID) error {
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.MemorySnapshot{}).
			Where("id = ? AND can_unwind = ? AND unwound_at IS NULL", snapshotID, true).
			Updates(map[string]interface{}{"unwound_at": now, "unwound_by": actorID})
		if result.Error != nil {
			return fmt.Errorf("stamp snapshot unwound: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var snap model.MemorySnapshot
			probe := tx.Where("id = ?", snapshotID).Limit(1).Find(&snap)
			if probe.Error != nil {
				return probe.Error
			}
			if probe.RowsAffected == 0 {
				return &store.NotFoundError{Resource: "snapshot", ID: snapshotID.String()}
			}
			if !snap.CanUnwind {
				return &store.ConflictError{Code: "not_unwindable", Message: fmt.Sprintf("snapshot %s is not unwindable", snapshotID)}
			}
			return &store.ConflictError{Code: "already_unwound", Message: fmt.Sprintf("snapshot %s was already unwound", snapshotID)}
		}

		if len(removeIDs) > 0 {
			if err := s.vectors.Delete(tx, VectorKindWorld, removeIDs); err != nil {
				return fmt.Errorf("delete world vectors: %w", err)
			}
			if err := tx.Where("id IN ?", removeIDs).Delete(&model.WorldMemory{}).Error; err != nil {
				return fmt.Errorf("delete world memories: %w", err)
			}
		}
		for i := range restore {
			mem := restore[i].Memory
			if err := tx.Create(&mem).Error; err != nil {
				return fmt.Errorf("restore world memory %s: %w", mem.ID, err)
			}
			if len(restore[i].Embedding) > 0 {
				if err := s.vectors.Upsert(tx, VectorKindWorld, mem.ID, restore[i].Embedding); err != nil {
					return fmt.Errorf("restore world vector %s: %w", mem.ID, err)
				}
			}
		}
		return nil
	})
}

// PruneUnwoundSnapshots hard-deletes snapshots that have already been unwound
// and fell out of the retention window. Snapshots that were never unwound are
// kept indefinitely.
func (s *Store) PruneUnwoundSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("unwound_at IS NOT NULL AND created_at <= ?", olderThan).
		Delete(&model.MemorySnapshot{})
	return result.RowsAffected, result.Error
}
