package memories

import (
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
	MountRoutes(router, engine, &cfg)
	return router, s
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCaptureEvent_Created(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/events",
		`{"actorId": "gm", "kind": "dialogue", "content": "the gates open"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var mem model.SessionMemory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mem))
	require.Equal(t, "sess-1", mem.SessionID)
	require.Equal(t, "the gates open", mem.Content)
	require.Greater(t, mem.Importance, 0.0)
}

func TestCaptureEvent_ValidationError(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/events",
		`{"actorId": "gm", "kind": "interpretive-dance", "content": "c"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "validation_error", body["code"])
	require.Equal(t, "kind", body["field"])
}

func TestListEvents_Filters(t *testing.T) {
	router, _ := newTestRouter(t)
	for i := 0; i < 3; i++ {
		w := doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/events",
			fmt.Sprintf(`{"actorId": "gm", "kind": "action", "content": "event %d"}`, i))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, router, http.MethodGet, "/v1/sessions/sess-1/events?limit=2&order=desc", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Events []model.SessionMemory `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)

	w = doJSON(t, router, http.MethodGet, "/v1/sessions/sess-1/events?processed=maybe", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCondense_EmptySessionConflicts(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/v1/sessions/sess-none/condense", "")
	require.Equal(t, http.StatusConflict, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "empty_batch", body["code"])
}

func TestCondense_CreatesEpisode(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/events",
		`{"actorId": "gm", "kind": "dialogue", "content": "the heist begins"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/condense", "")
	require.Equal(t, http.StatusCreated, w.Code)

	var ep model.EpisodeMemory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ep))
	require.Equal(t, "sess-1", ep.SessionID)
	require.NotEmpty(t, ep.Title)

	// The consumed session is empty again.
	w = doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/condense", "")
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestPurgeEvents_ReportsCount(t *testing.T) {
	router, _ := newTestRouter(t)
	for i := 0; i < 2; i++ {
		doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/events",
			`{"actorId": "gm", "kind": "observation", "content": "notes"}`)
	}

	w := doJSON(t, router, http.MethodDelete, "/v1/sessions/sess-1/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, float64(2), body["deleted"])
}

func TestSessionContext_ReturnsRecentEvents(t *testing.T) {
	router, _ := newTestRouter(t)
	doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/events",
		`{"actorId": "gm", "kind": "dialogue", "content": "the ferryman waits"}`)

	w := doJSON(t, router, http.MethodPost, "/v1/sessions/sess-1/context", `{"query": ""}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body["context"], "the ferryman waits")
}
