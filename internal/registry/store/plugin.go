package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fableforge/chronicle/internal/model"
	"github.com/google/uuid"
)

// SessionMemoryQuery filters session memory listings.
type SessionMemoryQuery struct {
	// Processed filters by the processed flag when non-nil.
	Processed *bool
	// MinImportance drops rows below the floor when > 0.
	MinImportance float64
	// Limit caps the number of rows; 0 means no cap.
	Limit int
	// NewestFirst orders by CreatedAt descending instead of ascending.
	NewestFirst bool
}

// ScoredEpisode is an episode with its similarity score against a query embedding.
type ScoredEpisode struct {
	Episode model.EpisodeMemory `json:"episode"`
	Score   float64             `json:"score"`
}

// ScoredWorldMemory is a world memory with its similarity score.
type ScoredWorldMemory struct {
	Memory model.WorldMemory `json:"memory"`
	Score  float64           `json:"score"`
}

// RestoredWorld pairs a world memory being re-created during an unwind with its
// recomputed embedding. Embedding may be nil when the embedder was unavailable;
// the row is still restored, only the vector entry is skipped.
type RestoredWorld struct {
	Memory    model.WorldMemory
	Embedding []float32
}

// MemoryStore is the persistence boundary for the memory lifecycle engine.
//
// Multi-row mutations (episode creation with event consumption, promotion with
// the write-once flag flip, unwind with the snapshot marker) are single
// transactions: the caller never observes a partial state.
type MemoryStore interface {
	// Session memories
	CreateSessionMemory(ctx context.Context, mem *model.SessionMemory) error
	GetSessionMemory(ctx context.Context, id uuid.UUID) (*model.SessionMemory, error)
	ListSessionMemories(ctx context.Context, sessionID string, q SessionMemoryQuery) ([]model.SessionMemory, error)
	DeleteSessionMemories(ctx context.Context, sessionID string) (int64, error)
	ExpireSessionMemories(ctx context.Context, now time.Time) (int64, error)

	// Episodes. CreateEpisode inserts the episode, upserts its vector, and marks
	// the consumed session memories processed in one transaction.
	CreateEpisode(ctx context.Context, ep *model.EpisodeMemory, embedding []float32, consumed []uuid.UUID) error
	GetEpisode(ctx context.Context, id uuid.UUID) (*model.EpisodeMemory, error)
	ListEpisodes(ctx context.Context, sessionID string, limit int) ([]model.EpisodeMemory, error)
	SearchEpisodes(ctx context.Context, embedding []float32, limit int, minScore float64) ([]ScoredEpisode, error)
	ExpireEpisodes(ctx context.Context, now time.Time) (int64, error)

	// World memories. PromoteEpisode inserts the world row and flips the
	// episode's promoted_to_world flag with a compare-and-swap in one
	// transaction; a lost race yields ConflictError{Code: "already_promoted"}
	// and no world row.
	CreateWorldMemory(ctx context.Context, mem *model.WorldMemory, embedding []float32) error
	PromoteEpisode(ctx context.Context, episodeID uuid.UUID, mem *model.WorldMemory, embedding []float32) error
	GetWorldMemory(ctx context.Context, id uuid.UUID) (*model.WorldMemory, error)
	ListWorldMemories(ctx context.Context) ([]model.WorldMemory, error)
	SearchWorldMemories(ctx context.Context, embedding []float32, limit int, minScore float64) ([]ScoredWorldMemory, error)

	// Snapshots. UnwindWorldSet applies the restore/remove sets and stamps
	// unwound_at/unwound_by with a compare-and-swap in one transaction; a
	// second unwind of the same snapshot yields
	// ConflictError{Code: "already_unwound"} and no world changes.
	CreateSnapshot(ctx context.Context, snap *model.MemorySnapshot) error
	GetSnapshot(ctx context.Context, id uuid.UUID) (*model.MemorySnapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]model.MemorySnapshot, error)
	UnwindWorldSet(ctx context.Context, snapshotID uuid.UUID, actorID string, restore []RestoredWorld, removeIDs []uuid.UUID) error
	PruneUnwoundSnapshots(ctx context.Context, olderThan time.Time) (int64, error)

	// Settings singleton. GetSettings creates the default row on first read.
	GetSettings(ctx context.Context) (*model.MemorySettings, error)
	UpdateSettings(ctx context.Context, settings model.MemorySettings) (*model.MemorySettings, error)
}

// Loader creates a MemoryStore from config.
type Loader func(ctx context.Context) (MemoryStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
