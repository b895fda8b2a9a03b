package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fableforge/chronicle/internal/config"
	"github.com/fableforge/chronicle/internal/memory"
	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/plugin/embed/hashing"
	"github.com/fableforge/chronicle/internal/plugin/narrator/scripted"
	"github.com/fableforge/chronicle/internal/plugin/store/gormstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestEngine(t *testing.T) (*memory.Engine, *gormstore.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.SessionMemory{},
		&model.EpisodeMemory{},
		&model.WorldMemory{},
		&model.MemorySnapshot{},
		&model.MemorySettings{},
		&gormstore.VectorRow{},
	))
	s := gormstore.New(db, gormstore.JSONVectorOps{})
	cfg := config.DefaultConfig()
	return memory.NewEngine(s, &hashing.HashingEmbedder{}, &scripted.Narrator{}, &cfg), s
}

func TestPromoter_PromotesSubmittedEpisodes(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ep := &model.EpisodeMemory{SessionID: "sess-1", Title: "A quiet evening", Summary: "s", Narrative: "n"}
	require.NoError(t, s.CreateEpisode(ctx, ep, nil, nil))

	promoter := NewPromoter(engine, 4)
	go promoter.Start(ctx)
	promoter.Submit(ep.ID)

	require.Eventually(t, func() bool {
		got, err := s.GetEpisode(ctx, ep.ID)
		return err == nil && got.PromotedToWorld
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPromoter_RiskyPromotionLeavesRollbackPoint(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ep := &model.EpisodeMemory{SessionID: "sess-1", Title: "The castle was destroyed in the war", Summary: "s", Narrative: "n"}
	require.NoError(t, s.CreateEpisode(ctx, ep, nil, nil))

	promoter := NewPromoter(engine, 4)
	go promoter.Start(ctx)
	promoter.Submit(ep.ID)

	require.Eventually(t, func() bool {
		got, err := s.GetEpisode(ctx, ep.ID)
		return err == nil && got.PromotedToWorld
	}, 5*time.Second, 10*time.Millisecond)

	snaps, err := s.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, model.SnapshotPrePromotion, snaps[0].Kind)
}

func TestPromoter_SubmitNeverBlocksWhenFull(t *testing.T) {
	engine, _ := newTestEngine(t)
	promoter := NewPromoter(engine, 1)

	// No worker running; the second submission must be dropped, not block.
	done := make(chan struct{})
	go func() {
		promoter.Submit(uuid.New())
		promoter.Submit(uuid.New())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
}

func TestExpiryService_RunOnceCleansUp(t *testing.T) {
	_, s := newTestEngine(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	stale := &model.SessionMemory{SessionID: "sess-1", ActorID: "a", Kind: model.EventDialogue, Content: "old", ExpiresAt: &past}
	require.NoError(t, s.CreateSessionMemory(ctx, stale))
	staleEp := &model.EpisodeMemory{SessionID: "sess-1", Title: "stale", Summary: "s", Narrative: "n", ExpiresAt: &past}
	require.NoError(t, s.CreateEpisode(ctx, staleEp, nil, nil))

	svc := NewExpiryService(s, time.Minute)
	svc.RunOnce(ctx)

	_, err := s.GetSessionMemory(ctx, stale.ID)
	require.Error(t, err)
	_, err = s.GetEpisode(ctx, staleEp.ID)
	require.Error(t, err)
}

func TestExpiryService_RespectsAutoCleanupFlag(t *testing.T) {
	_, s := newTestEngine(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	settings.AutoCleanup = false
	_, err = s.UpdateSettings(ctx, *settings)
	require.NoError(t, err)

	stale := &model.SessionMemory{SessionID: "sess-1", ActorID: "a", Kind: model.EventDialogue, Content: "old", ExpiresAt: &past}
	require.NoError(t, s.CreateSessionMemory(ctx, stale))

	svc := NewExpiryService(s, time.Minute)
	svc.RunOnce(ctx)

	got, err := s.GetSessionMemory(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, "old", got.Content)
}
