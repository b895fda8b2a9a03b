// Package memories serves the session-event surface: capture, listing,
// condensation, and context assembly.
package memories

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fableforge/chronicle/internal/config"
	"github.com/fableforge/chronicle/internal/memory"
	"github.com/fableforge/chronicle/internal/narrative"
	registrystore "github.com/fableforge/chronicle/internal/registry/store"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts the session memory endpoints on the given router.
func MountRoutes(r *gin.Engine, engine *memory.Engine, cfg *config.Config) {
	g := r.Group("/v1/sessions")

	g.POST("/:id/events", func(c *gin.Context) { captureEvent(c, engine) })
	g.GET("/:id/events", func(c *gin.Context) { listEvents(c, engine) })
	g.DELETE("/:id/events", func(c *gin.Context) { purgeEvents(c, engine) })
	g.POST("/:id/condense", func(c *gin.Context) { condenseSession(c, engine) })
	g.POST("/:id/context", func(c *gin.Context) { sessionContext(c, engine) })
}

func captureEvent(c *gin.Context, engine *memory.Engine) {
	var req memory.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.SessionID = c.Param("id")

	mem, err := engine.CaptureEvent(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mem)
}

func listEvents(c *gin.Context, engine *memory.Engine) {
	q := registrystore.SessionMemoryQuery{
		Limit:       queryInt(c, "limit", 100),
		NewestFirst: c.Query("order") == "desc",
	}
	if v := c.Query("processed"); v != "" {
		processed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "processed must be a boolean"})
			return
		}
		q.Processed = &processed
	}
	if v := c.Query("min_importance"); v != "" {
		floor, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_importance must be a number"})
			return
		}
		q.MinImportance = floor
	}

	mems, err := engine.Store().ListSessionMemories(c.Request.Context(), c.Param("id"), q)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": mems})
}

func purgeEvents(c *gin.Context, engine *memory.Engine) {
	n, err := engine.Store().DeleteSessionMemories(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func condenseSession(c *gin.Context, engine *memory.Engine) {
	ep, err := engine.CondenseSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ep)
}

func sessionContext(c *gin.Context, engine *memory.Engine) {
	var req memory.ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.SessionID = c.Param("id")

	text, err := engine.SessionContext(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"context": text})
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var emptyBatch *memory.EmptyBatchError
	var parse *narrative.ParseError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": conflict.Code, "error": err.Error()})
	case errors.As(err, &emptyBatch):
		c.JSON(http.StatusConflict, gin.H{"code": "empty_batch", "error": err.Error()})
	case errors.As(err, &parse):
		c.JSON(http.StatusBadGateway, gin.H{"code": "parse_failure", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
