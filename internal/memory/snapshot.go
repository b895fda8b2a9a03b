package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/registry/store"
	"github.com/fableforge/chronicle/internal/security"
	"github.com/google/uuid"
)

// TakeSnapshot captures the entire current world memory set verbatim. The
// optional IDs tie the snapshot to the world memory or episode that prompted
// it, for provenance only; the captured state is always the full set.
func (e *Engine) TakeSnapshot(ctx context.Context, kind model.SnapshotKind, reason string, worldMemoryID, episodeID *uuid.UUID) (*model.MemorySnapshot, error) {
	memories, err := e.store.ListWorldMemories(ctx)
	if err != nil {
		return nil, err
	}
	state, err := json.Marshal(memories)
	if err != nil {
		return nil, fmt.Errorf("serialize world state: %w", err)
	}
	snap := &model.MemorySnapshot{
		ID:            uuid.New(),
		Kind:          kind,
		Reason:        reason,
		WorldMemoryID: worldMemoryID,
		EpisodeID:     episodeID,
		WorldState:    state,
		MemoryCount:   len(memories),
		CanUnwind:     true,
		CreatedAt:     time.Now(),
	}
	if err := e.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	if security.SnapshotsTotal != nil {
		security.SnapshotsTotal.WithLabelValues(string(kind)).Inc()
	}
	log.Info("Snapshot taken", "snapshot", snap.ID, "kind", kind, "memories", len(memories))
	return snap, nil
}

// UnwindResult reports what an unwind changed or would change.
type UnwindResult struct {
	SnapshotID uuid.UUID `json:"snapshotId"`
	Restored   int       `json:"restored"`
	Removed    int       `json:"removed"`
}

// PreviewUnwind computes the set difference between a snapshot and the
// current world without writing anything.
func (e *Engine) PreviewUnwind(ctx context.Context, snapshotID uuid.UUID) (*UnwindResult, error) {
	snap, err := e.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	restore, removeIDs, err := e.worldDiff(ctx, snap)
	if err != nil {
		return nil, err
	}
	return &UnwindResult{SnapshotID: snapshotID, Restored: len(restore), Removed: len(removeIDs)}, nil
}

// Unwind restores the world memory set to the snapshot's state: memories
// missing from the current set are recreated, memories added since are
// deleted. The whole restoration plus the unwound stamp commit in one
// transaction; repeating the call yields AlreadyUnwound.
func (e *Engine) Unwind(ctx context.Context, snapshotID uuid.UUID, actorID string) (*UnwindResult, error) {
	snap, err := e.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if !snap.CanUnwind {
		return nil, &store.ConflictError{Code: "not_unwindable", Message: fmt.Sprintf("snapshot %s is not unwindable", snapshotID)}
	}
	if snap.UnwoundAt != nil {
		return nil, &store.ConflictError{Code: "already_unwound", Message: fmt.Sprintf("snapshot %s was already unwound", snapshotID)}
	}

	snapMemories, removeIDs, err := e.worldDiff(ctx, snap)
	if err != nil {
		return nil, err
	}
	restore := make([]store.RestoredWorld, len(snapMemories))
	for i, mem := range snapMemories {
		restore[i] = store.RestoredWorld{
			Memory:    mem,
			Embedding: e.embedText(ctx, mem.Title+"\n"+mem.Description+"\n"+mem.Narrative),
		}
	}

	if err := e.store.UnwindWorldSet(ctx, snapshotID, actorID, restore, removeIDs); err != nil {
		return nil, err
	}
	if security.UnwindsTotal != nil {
		security.UnwindsTotal.Inc()
	}
	log.Info("Snapshot unwound",
		"snapshot", snapshotID, "actor", actorID, "restored", len(restore), "removed", len(removeIDs))
	return &UnwindResult{SnapshotID: snapshotID, Restored: len(restore), Removed: len(removeIDs)}, nil
}

// worldDiff returns the snapshot memories missing from the current world set
// and the IDs of current memories absent from the snapshot.
func (e *Engine) worldDiff(ctx context.Context, snap *model.MemorySnapshot) ([]model.WorldMemory, []uuid.UUID, error) {
	var snapshotSet []model.WorldMemory
	if err := json.Unmarshal(snap.WorldState, &snapshotSet); err != nil {
		return nil, nil, fmt.Errorf("deserialize world state of snapshot %s: %w", snap.ID, err)
	}
	current, err := e.store.ListWorldMemories(ctx)
	if err != nil {
		return nil, nil, err
	}

	currentIDs := make(map[uuid.UUID]bool, len(current))
	for _, mem := range current {
		currentIDs[mem.ID] = true
	}
	snapshotIDs := make(map[uuid.UUID]bool, len(snapshotSet))
	for _, mem := range snapshotSet {
		snapshotIDs[mem.ID] = true
	}

	var restore []model.WorldMemory
	for _, mem := range snapshotSet {
		if !currentIDs[mem.ID] {
			restore = append(restore, mem)
		}
	}
	var removeIDs []uuid.UUID
	for _, mem := range current {
		if !snapshotIDs[mem.ID] {
			removeIDs = append(removeIDs, mem.ID)
		}
	}
	return restore, removeIDs, nil
}
