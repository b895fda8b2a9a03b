package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fableforge/chronicle/internal/config"
	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/narrative"
	"github.com/fableforge/chronicle/internal/plugin/embed/hashing"
	"github.com/fableforge/chronicle/internal/plugin/narrator/scripted"
	"github.com/fableforge/chronicle/internal/plugin/store/gormstore"
	registrynarrator "github.com/fableforge/chronicle/internal/registry/narrator"
	"github.com/fableforge/chronicle/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *gormstore.Store {
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
	return gormstore.New(db, gormstore.JSONVectorOps{})
}

func newTestEngine(t *testing.T, n registrynarrator.Narrator) (*Engine, *gormstore.Store, *config.Config) {
	t.Helper()
	s := newTestStore(t)
	cfg := config.DefaultConfig()
	if n == nil {
		n = &scripted.Narrator{}
	}
	engine := NewEngine(s, &hashing.HashingEmbedder{}, n, &cfg)
	return engine, s, &cfg
}

// errNarrator simulates a provider outage.
type errNarrator struct{}

func (errNarrator) ModelName() string { return "offline" }
func (errNarrator) Generate(context.Context, string) (narrative.Result, error) {
	return narrative.Result{}, errors.New("model offline")
}

// proseNarrator answers everything with unparseable prose.
type proseNarrator struct{}

func (proseNarrator) ModelName() string { return "prose" }
func (proseNarrator) Generate(context.Context, string) (narrative.Result, error) {
	return narrative.RawText("a long rambling answer with no structure whatsoever"), nil
}

// recordingPromoter captures submissions instead of promoting.
type recordingPromoter struct {
	ids []uuid.UUID
}

func (p *recordingPromoter) Submit(episodeID uuid.UUID) { p.ids = append(p.ids, episodeID) }

func TestCaptureEvent_Validation(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	cases := []struct {
		field string
		req   CaptureRequest
	}{
		{"sessionId", CaptureRequest{ActorID: "a", Kind: model.EventDialogue, Content: "c"}},
		{"actorId", CaptureRequest{SessionID: "s", Kind: model.EventDialogue, Content: "c"}},
		{"content", CaptureRequest{SessionID: "s", ActorID: "a", Kind: model.EventDialogue}},
		{"kind", CaptureRequest{SessionID: "s", ActorID: "a", Kind: "song", Content: "c"}},
	}
	for _, tc := range cases {
		_, err := engine.CaptureEvent(ctx, tc.req)
		var validation *store.ValidationError
		require.ErrorAs(t, err, &validation, tc.field)
		require.Equal(t, tc.field, validation.Field)
	}
}

func TestCaptureEvent_ScoresAndStores(t *testing.T) {
	engine, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	mem, err := engine.CaptureEvent(ctx, CaptureRequest{
		SessionID: "sess-1",
		ActorID:   "gm",
		Kind:      model.EventAction,
		Content:   "The king died in the war",
	})
	require.NoError(t, err)
	require.InDelta(t, 0.7, mem.Importance, 1e-9)
	require.Contains(t, mem.Tags, "died")
	require.Contains(t, mem.Tags, "war")
	require.NotNil(t, mem.ExpiresAt)
	require.WithinDuration(t, time.Now().Add(72*time.Hour), *mem.ExpiresAt, time.Minute)

	stored, err := s.GetSessionMemory(ctx, mem.ID)
	require.NoError(t, err)
	require.False(t, stored.Processed)
}

func TestCaptureEvent_FallsBackOnNarratorError(t *testing.T) {
	engine, _, _ := newTestEngine(t, errNarrator{})
	mem, err := engine.CaptureEvent(context.Background(), CaptureRequest{
		SessionID: "sess-1", ActorID: "gm", Kind: model.EventDialogue, Content: "hello there",
	})
	require.NoError(t, err)
	require.Equal(t, 0.5, mem.Importance)
}

func TestCaptureEvent_FallsBackOnUnparseableResponse(t *testing.T) {
	engine, _, _ := newTestEngine(t, proseNarrator{})
	mem, err := engine.CaptureEvent(context.Background(), CaptureRequest{
		SessionID: "sess-1", ActorID: "gm", Kind: model.EventDialogue, Content: "hello there",
	})
	require.NoError(t, err)
	require.Equal(t, 0.5, mem.Importance)
}

func seedEvent(t *testing.T, s *gormstore.Store, sessionID, actor, content string, importance float64, location *string) *model.SessionMemory {
	t.Helper()
	mem := &model.SessionMemory{
		SessionID:  sessionID,
		ActorID:    actor,
		Kind:       model.EventDialogue,
		Content:    content,
		Importance: importance,
		LocationID: location,
	}
	require.NoError(t, s.CreateSessionMemory(context.Background(), mem))
	return mem
}

func TestCondenseSession_EmptyBatch(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	_, err := engine.CondenseSession(context.Background(), "sess-empty")
	var empty *EmptyBatchError
	require.ErrorAs(t, err, &empty)
	require.Equal(t, "sess-empty", empty.SessionID)
}

func TestCondenseSession_BuildsEpisodeAndConsumesEvents(t *testing.T) {
	engine, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	tavern := "The Gilded Tankard"
	tavernUpper := "the gilded tankard"
	seedEvent(t, s, "sess-1", "alice", "we meet at dusk", 0.2, &tavern)
	seedEvent(t, s, "sess-1", "bob", "a toast to the quest", 0.4, &tavernUpper)

	ep, err := engine.CondenseSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "A Session Remembered", ep.Title)
	require.InDelta(t, 0.3, ep.Importance, 1e-9)
	require.Equal(t, []string{"alice", "bob"}, ep.ParticipantIDs)
	require.Len(t, ep.LocationIDs, 1)
	require.True(t, strings.EqualFold("The Gilded Tankard", ep.LocationIDs[0]))
	require.NotNil(t, ep.ExpiresAt)

	unprocessed := false
	left, err := s.ListSessionMemories(ctx, "sess-1", store.SessionMemoryQuery{Processed: &unprocessed})
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestCondenseSession_SubmitsHighImportanceEpisodes(t *testing.T) {
	engine, s, _ := newTestEngine(t, nil)
	promoter := &recordingPromoter{}
	engine.SetPromoter(promoter)
	ctx := context.Background()

	seedEvent(t, s, "sess-1", "alice", "the dragon falls", 0.9, nil)
	seedEvent(t, s, "sess-1", "bob", "the city cheers", 0.8, nil)

	ep, err := engine.CondenseSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ep.ID}, promoter.ids)

	seedEvent(t, s, "sess-2", "alice", "small talk", 0.1, nil)
	_, err = engine.CondenseSession(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, promoter.ids, 1)
}

func seedEpisode(t *testing.T, s *gormstore.Store, title string) *model.EpisodeMemory {
	t.Helper()
	ep := &model.EpisodeMemory{
		SessionID: "sess-1",
		Title:     title,
		Summary:   "what the table will remember",
		Narrative: "a full account of the evening",
	}
	require.NoError(t, s.CreateEpisode(context.Background(), ep, nil, nil))
	return ep
}

func TestPromoteEpisode_RiskyImpactTakesSnapshotFirst(t *testing.T) {
	engine, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	ep := seedEpisode(t, s, "War came, the king died, the castle was destroyed")

	world, err := engine.PromoteEpisode(ctx, ep.ID, true)
	require.NoError(t, err)
	require.Equal(t, model.ImpactWorldChanging, world.Impact)
	require.Equal(t, ep.Title, world.Title)
	require.Equal(t, []string{ep.ID.String()}, world.SourceEpisodeIDs)

	snaps, err := s.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, model.SnapshotPrePromotion, snaps[0].Kind)
	require.NotNil(t, snaps[0].EpisodeID)
	require.Equal(t, ep.ID, *snaps[0].EpisodeID)
	// Snapshot was taken before the world row was written.
	require.Equal(t, 0, snaps[0].MemoryCount)

	promoted, err := s.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	require.True(t, promoted.PromotedToWorld)

	_, err = engine.PromoteEpisode(ctx, ep.ID, true)
	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "already_promoted", conflict.Code)
}

func TestPromoteEpisode_CalmImpactSkipsSnapshot(t *testing.T) {
	engine, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	ep := seedEpisode(t, s, "A quiet evening of tea and maps")
	world, err := engine.PromoteEpisode(ctx, ep.ID, true)
	require.NoError(t, err)
	require.Equal(t, model.ImpactMinor, world.Impact)

	snaps, err := s.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, snaps)
}

func TestPromoteEpisode_OptOutSkipsSnapshot(t *testing.T) {
	engine, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	ep := seedEpisode(t, s, "War came, the king died, the castle was destroyed")
	_, err := engine.PromoteEpisode(ctx, ep.ID, false)
	require.NoError(t, err)

	snaps, err := s.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, snaps)
}

// lenientNarrator proposes a world_changing fact but answers the risk query
// with requires_snapshot=false.
type lenientNarrator struct{}

func (lenientNarrator) ModelName() string { return "lenient" }
func (lenientNarrator) Generate(_ context.Context, prompt string) (narrative.Result, error) {
	if strings.HasPrefix(prompt, "Assess the risk") {
		return narrative.Structured([]byte(`{"requires_snapshot": false, "risk_level": "low"}`)), nil
	}
	return narrative.Structured([]byte(`{"category": "event", "title": "The Sundering", "description": "d", "narrative": "n", "impact_level": "world_changing"}`)), nil
}

func TestPromoteEpisode_RiskyImpactOverridesLenientSafeguard(t *testing.T) {
	engine, s, _ := newTestEngine(t, lenientNarrator{})
	ctx := context.Background()

	ep := seedEpisode(t, s, "The Sundering")
	world, err := engine.PromoteEpisode(ctx, ep.ID, true)
	require.NoError(t, err)
	require.Equal(t, model.ImpactWorldChanging, world.Impact)

	// The impact level alone forces the rollback point.
	snaps, err := s.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, model.SnapshotPrePromotion, snaps[0].Kind)
	require.Equal(t, 0, snaps[0].MemoryCount)
}

func TestPromoteEpisode_FailsClosedWhenSafeguardUnavailable(t *testing.T) {
	// The scripted safeguard is available here, so exercise the fail-closed
	// path directly through checkSafeguards with an offline narrator.
	engine, _, _ := newTestEngine(t, errNarrator{})
	report := engine.checkSafeguards(context.Background(), &narrative.WorldProposal{Impact: model.ImpactMajor})
	require.True(t, report.RequiresSnapshot)
	require.Equal(t, model.RiskHigh, report.RiskLevel)

	report = engine.checkSafeguards(context.Background(), &narrative.WorldProposal{Impact: model.ImpactMinor})
	require.False(t, report.RequiresSnapshot)
	require.Equal(t, model.RiskHigh, report.RiskLevel)
}

func TestEpisodeSafeguards_DryRun(t *testing.T) {
	engine, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	ep := seedEpisode(t, s, "The harbor was destroyed by war")
	proposal, report, err := engine.EpisodeSafeguards(ctx, ep.ID)
	require.NoError(t, err)
	require.Equal(t, ep.Title, proposal.Title)
	require.True(t, report.RequiresSnapshot)

	// Dry run writes nothing.
	got, err := s.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	require.False(t, got.PromotedToWorld)
	memories, err := s.ListWorldMemories(ctx)
	require.NoError(t, err)
	require.Empty(t, memories)
}

func TestUnwind_RestoresAndRemoves(t *testing.T) {
	engine, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	empty, err := engine.TakeSnapshot(ctx, model.SnapshotManual, "before anything", nil, nil)
	require.NoError(t, err)

	fact := &model.WorldMemory{Category: "event", Title: "The Fall", Description: "d", Narrative: "n", Impact: model.ImpactMajor}
	require.NoError(t, s.CreateWorldMemory(ctx, fact, nil))

	withFact, err := engine.TakeSnapshot(ctx, model.SnapshotManual, "after the fall", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, withFact.MemoryCount)

	preview, err := engine.PreviewUnwind(ctx, empty.ID)
	require.NoError(t, err)
	require.Equal(t, 0, preview.Restored)
	require.Equal(t, 1, preview.Removed)

	result, err := engine.Unwind(ctx, empty.ID, "gm-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.Removed)
	memories, err := s.ListWorldMemories(ctx)
	require.NoError(t, err)
	require.Empty(t, memories)

	result, err = engine.Unwind(ctx, withFact.ID, "gm-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.Restored)
	require.Equal(t, 0, result.Removed)

	memories, err = s.ListWorldMemories(ctx)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	require.Equal(t, fact.ID, memories[0].ID)
}

func TestUnwind_RepeatConflicts(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	snap, err := engine.TakeSnapshot(ctx, model.SnapshotManual, "checkpoint", nil, nil)
	require.NoError(t, err)

	_, err = engine.Unwind(ctx, snap.ID, "gm-1")
	require.NoError(t, err)

	_, err = engine.Unwind(ctx, snap.ID, "gm-2")
	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "already_unwound", conflict.Code)
}

func TestSessionContext_AssemblesSections(t *testing.T) {
	engine, s, cfg := newTestEngine(t, nil)
	ctx := context.Background()

	older := seedEvent(t, s, "sess-1", "alice", "first we scouted the walls", 0.3, nil)
	older.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.DB().Save(older).Error)
	seedEvent(t, s, "sess-1", "bob", "then we breached the gate", 0.3, nil)

	important := seedEvent(t, s, "sess-1", "alice", "the oath was sworn in blood", 0.95, nil)
	important.Processed = true
	require.NoError(t, s.DB().Save(important).Error)

	query := "the siege of the citadel"
	vec, err := (&hashing.HashingEmbedder{}).EmbedTexts(ctx, []string{query})
	require.NoError(t, err)

	ep := &model.EpisodeMemory{SessionID: "sess-1", Title: "The Siege", Summary: "the citadel holds", Narrative: "n"}
	require.NoError(t, s.CreateEpisode(ctx, ep, vec[0], nil))

	public := &model.WorldMemory{Category: "event", Title: "The Citadel Stands", Description: "public canon", Narrative: "n", Impact: model.ImpactMajor, Public: true}
	require.NoError(t, s.CreateWorldMemory(ctx, public, vec[0]))
	hidden := &model.WorldMemory{Category: "lore", Title: "The Hidden Pact", Description: "secret canon", Narrative: "n", Impact: model.ImpactMajor, Public: false}
	require.NoError(t, s.CreateWorldMemory(ctx, hidden, vec[0]))

	out, err := engine.SessionContext(ctx, ContextRequest{SessionID: "sess-1", Query: query})
	require.NoError(t, err)

	require.Contains(t, out, "## World canon")
	require.Contains(t, out, "The Citadel Stands")
	require.NotContains(t, out, "The Hidden Pact")
	require.Contains(t, out, "## Past episodes")
	require.Contains(t, out, "The Siege")
	require.Contains(t, out, "## Important moments")
	require.Contains(t, out, "the oath was sworn in blood")
	require.Contains(t, out, "## Recent events")
	require.Less(t, strings.Index(out, "## World canon"), strings.Index(out, "## Recent events"))
	// Recent events read oldest to newest.
	require.Less(t, strings.Index(out, "first we scouted"), strings.Index(out, "then we breached"))

	cfg.ContextMaxChars = 40
	out, err = engine.SessionContext(ctx, ContextRequest{SessionID: "sess-1", Query: ""})
	require.NoError(t, err)
	require.LessOrEqual(t, len([]rune(out)), 40)
}

func TestSessionContext_ImportantSectionHonorsMaxEpisodic(t *testing.T) {
	engine, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		mem := seedEvent(t, s, "sess-1", "gm", fmt.Sprintf("pivotal moment %d", i), 0.9, nil)
		mem.Processed = true
		require.NoError(t, s.DB().Save(mem).Error)
	}

	out, err := engine.SessionContext(ctx, ContextRequest{SessionID: "sess-1", MaxRecent: 5, MaxEpisodic: 1})
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(out, "pivotal moment"))
}

func TestSessionContext_ImportantSectionBlendsImportanceAndRecency(t *testing.T) {
	engine, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	crowning := seedEvent(t, s, "sess-1", "gm", "the heir was crowned", 0.95, nil)
	crowning.Processed = true
	crowning.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.DB().Save(crowning).Error)
	gossip := seedEvent(t, s, "sess-1", "gm", "gossip about the harvest", 0.65, nil)
	gossip.Processed = true
	require.NoError(t, s.DB().Save(gossip).Error)

	// One slot: the much more important older event beats the newer one.
	out, err := engine.SessionContext(ctx, ContextRequest{SessionID: "sess-1", MaxEpisodic: 1})
	require.NoError(t, err)
	require.Contains(t, out, "the heir was crowned")
	require.NotContains(t, out, "gossip about the harvest")
}

func TestSessionContext_RequiresSessionID(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	_, err := engine.SessionContext(context.Background(), ContextRequest{})
	var validation *store.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "sessionId", validation.Field)
}

func TestClamp(t *testing.T) {
	require.Equal(t, 1.0, clamp(1.7, 0, 1))
	require.Equal(t, 0.0, clamp(-2, 0, 1))
	require.Equal(t, 0.4, clamp(0.4, 0, 1))
}
