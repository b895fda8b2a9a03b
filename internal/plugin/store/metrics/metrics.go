package metrics

import (
	"context"
	"time"

	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/registry/store"
	"github.com/fableforge/chronicle/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a MemoryStore that records StoreLatency for every operation.
func Wrap(inner store.MemoryStore) store.MemoryStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MemoryStore
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) CreateSessionMemory(ctx context.Context, mem *model.SessionMemory) error {
	defer observe("create_session_memory", time.Now())
	return m.inner.CreateSessionMemory(ctx, mem)
}

func (m *metricsStore) GetSessionMemory(ctx context.Context, id uuid.UUID) (*model.SessionMemory, error) {
	defer observe("get_session_memory", time.Now())
	return m.inner.GetSessionMemory(ctx, id)
}

func (m *metricsStore) ListSessionMemories(ctx context.Context, sessionID string, q store.SessionMemoryQuery) ([]model.SessionMemory, error) {
	defer observe("list_session_memories", time.Now())
	return m.inner.ListSessionMemories(ctx, sessionID, q)
}

func (m *metricsStore) DeleteSessionMemories(ctx context.Context, sessionID string) (int64, error) {
	defer observe("delete_session_memories", time.Now())
	return m.inner.DeleteSessionMemories(ctx, sessionID)
}

func (m *metricsStore) ExpireSessionMemories(ctx context.Context, now time.Time) (int64, error) {
	defer observe("expire_session_memories", time.Now())
	return m.inner.ExpireSessionMemories(ctx, now)
}

func (m *metricsStore) CreateEpisode(ctx context.Context, ep *model.EpisodeMemory, embedding []float32, consumed []uuid.UUID) error {
	defer observe("create_episode", time.Now())
	return m.inner.CreateEpisode(ctx, ep, embedding, consumed)
}

func (m *metricsStore) GetEpisode(ctx context.Context, id uuid.UUID) (*model.EpisodeMemory, error) {
	defer observe("get_episode", time.Now())
	return m.inner.GetEpisode(ctx, id)
}

func (m *metricsStore) ListEpisodes(ctx context.Context, sessionID string, limit int) ([]model.EpisodeMemory, error) {
	defer observe("list_episodes", time.Now())
	return m.inner.ListEpisodes(ctx, sessionID, limit)
}

func (m *metricsStore) SearchEpisodes(ctx context.Context, embedding []float32, limit int, minScore float64) ([]store.ScoredEpisode, error) {
	defer observe("search_episodes", time.Now())
	return m.inner.SearchEpisodes(ctx, embedding, limit, minScore)
}

func (m *metricsStore) ExpireEpisodes(ctx context.Context, now time.Time) (int64, error) {
	defer observe("expire_episodes", time.Now())
	return m.inner.ExpireEpisodes(ctx, now)
}

func (m *metricsStore) CreateWorldMemory(ctx context.Context, mem *model.WorldMemory, embedding []float32) error {
	defer observe("create_world_memory", time.Now())
	return m.inner.CreateWorldMemory(ctx, mem, embedding)
}

func (m *metricsStore) PromoteEpisode(ctx context.Context, episodeID uuid.UUID, mem *model.WorldMemory, embedding []float32) error {
	defer observe("promote_episode", time.Now())
	return m.inner.PromoteEpisode(ctx, episodeID, mem, embedding)
}

func (m *metricsStore) GetWorldMemory(ctx context.Context, id uuid.UUID) (*model.WorldMemory, error) {
	defer observe("get_world_memory", time.Now())
	return m.inner.GetWorldMemory(ctx, id)
}

func (m *metricsStore) ListWorldMemories(ctx context.Context) ([]model.WorldMemory, error) {
	defer observe("list_world_memories", time.Now())
	return m.inner.ListWorldMemories(ctx)
}

func (m *metricsStore) SearchWorldMemories(ctx context.Context, embedding []float32, limit int, minScore float64) ([]store.ScoredWorldMemory, error) {
	defer observe("search_world_memories", time.Now())
	return m.inner.SearchWorldMemories(ctx, embedding, limit, minScore)
}

func (m *metricsStore) CreateSnapshot(ctx context.Context, snap *model.MemorySnapshot) error {
	defer observe("create_snapshot", time.Now())
	return m.inner.CreateSnapshot(ctx, snap)
}

func (m *metricsStore) GetSnapshot(ctx context.Context, id uuid.UUID) (*model.MemorySnapshot, error) {
	defer observe("get_snapshot", time.Now())
	return m.inner.GetSnapshot(ctx, id)
}

func (m *metricsStore) ListSnapshots(ctx context.Context, limit int) ([]model.MemorySnapshot, error) {
	defer observe("list_snapshots", time.Now())
	return m.inner.ListSnapshots(ctx, limit)
}

func (m *metricsStore) UnwindWorldSet(ctx context.Context, snapshotID uuid.UUID, actorID string, restore []store.RestoredWorld, removeIDs []uuid.UUID) error {
	defer observe("unwind_world_set", time.Now())
	return m.inner.UnwindWorldSet(ctx, snapshotID, actorID, restore, removeIDs)
}

func (m *metricsStore) PruneUnwoundSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	defer observe("prune_unwound_snapshots", time.Now())
	return m.inner.PruneUnwoundSnapshots(ctx, olderThan)
}

func (m *metricsStore) GetSettings(ctx context.Context) (*model.MemorySettings, error) {
	defer observe("get_settings", time.Now())
	return m.inner.GetSettings(ctx)
}

func (m *metricsStore) UpdateSettings(ctx context.Context, settings model.MemorySettings) (*model.MemorySettings, error) {
	defer observe("update_settings", time.Now())
	return m.inner.UpdateSettings(ctx, settings)
}
