package canon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fableforge/chronicle/internal/config"
	"github.com/fableforge/chronicle/internal/memory"
	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/plugin/embed/hashing"
	"github.com/fableforge/chronicle/internal/plugin/narrator/scripted"
	"github.com/fableforge/chronicle/internal/plugin/store/gormstore"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gormstore.Store) {
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
	engine := memory.NewEngine(s, &hashing.HashingEmbedder{}, &scripted.Narrator{}, &cfg)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	MountRoutes(router, engine)
	return router, s
}

func seedEpisode(t *testing.T, s *gormstore.Store, title string) *model.EpisodeMemory {
	t.Helper()
	ep := &model.EpisodeMemory{SessionID: "sess-1", Title: title, Summary: "s", Narrative: "n"}
	require.NoError(t, s.CreateEpisode(context.Background(), ep, nil, nil))
	return ep
}

func TestPromoteEpisode_CreatesWorldMemory(t *testing.T) {
	router, s := newTestRouter(t)
	ep := seedEpisode(t, s, "A quiet evening of tea")

	req := httptest.NewRequest(http.MethodPost, "/v1/episodes/"+ep.ID.String()+"/promote", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var world model.WorldMemory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &world))
	require.Equal(t, ep.Title, world.Title)

	// Promoting the same episode again conflicts.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/episodes/"+ep.ID.String()+"/promote", nil))
	require.Equal(t, http.StatusConflict, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "already_promoted", body["code"])
}

func TestPromoteEpisode_RiskySnapshotsByDefault(t *testing.T) {
	router, s := newTestRouter(t)
	ep := seedEpisode(t, s, "The king died and the castle was destroyed")

	// No body: snapshots are on unless explicitly disabled.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/episodes/"+ep.ID.String()+"/promote", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	snaps, err := s.ListSnapshots(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, model.SnapshotPrePromotion, snaps[0].Kind)
}

func TestPromoteEpisode_SnapshotOptOut(t *testing.T) {
	router, s := newTestRouter(t)
	ep := seedEpisode(t, s, "The king died and the castle was destroyed")

	req := httptest.NewRequest(http.MethodPost, "/v1/episodes/"+ep.ID.String()+"/promote",
		strings.NewReader(`{"requireSnapshot": false}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	snaps, err := s.ListSnapshots(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, snaps)
}

func TestPromoteEpisode_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/episodes/"+uuid.NewString()+"/promote", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPromoteEpisode_InvalidID(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/episodes/not-a-uuid/promote", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckSafeguards_ReturnsProposalAndReport(t *testing.T) {
	router, s := newTestRouter(t)
	ep := seedEpisode(t, s, "The capital was destroyed in the war")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/episodes/"+ep.ID.String()+"/safeguards", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Proposal map[string]any `json:"proposal"`
		Report   map[string]any `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, ep.Title, body.Proposal["title"])
	require.Equal(t, true, body.Report["requires_snapshot"])
}

func TestListAndGetWorld(t *testing.T) {
	router, s := newTestRouter(t)
	fact := &model.WorldMemory{Category: "lore", Title: "The Old Pact", Description: "d", Narrative: "n", Impact: model.ImpactMinor}
	require.NoError(t, s.CreateWorldMemory(context.Background(), fact, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/world", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Memories []model.WorldMemory `json:"memories"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Memories, 1)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/world/"+fact.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/world/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEpisodes_BySession(t *testing.T) {
	router, s := newTestRouter(t)
	seedEpisode(t, s, "one")
	other := &model.EpisodeMemory{SessionID: "sess-2", Title: "two", Summary: "s", Narrative: "n"}
	require.NoError(t, s.CreateEpisode(context.Background(), other, nil, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/episodes?session=sess-2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Episodes []model.EpisodeMemory `json:"episodes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Episodes, 1)
	require.Equal(t, "two", body.Episodes[0].Title)
}
