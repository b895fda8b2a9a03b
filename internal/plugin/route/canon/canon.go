// Package canon serves episodes and the promotion pipeline into world canon.
package canon

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fableforge/chronicle/internal/memory"
	"github.com/fableforge/chronicle/internal/narrative"
	registrystore "github.com/fableforge/chronicle/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts episode and world memory endpoints on the given router.
func MountRoutes(r *gin.Engine, engine *memory.Engine) {
	g := r.Group("/v1")

	g.GET("/episodes", func(c *gin.Context) { listEpisodes(c, engine) })
	g.GET("/episodes/:id", func(c *gin.Context) { getEpisode(c, engine) })
	g.POST("/episodes/:id/promote", func(c *gin.Context) { promoteEpisode(c, engine) })
	g.POST("/episodes/:id/safeguards", func(c *gin.Context) { checkSafeguards(c, engine) })

	g.GET("/world", func(c *gin.Context) { listWorld(c, engine) })
	g.GET("/world/:id", func(c *gin.Context) { getWorld(c, engine) })
}

func listEpisodes(c *gin.Context, engine *memory.Engine) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			limit = i
		}
	}
	episodes, err := engine.Store().ListEpisodes(c.Request.Context(), c.Query("session"), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"episodes": episodes})
}

func getEpisode(c *gin.Context, engine *memory.Engine) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	ep, err := engine.Store().GetEpisode(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

func promoteEpisode(c *gin.Context, engine *memory.Engine) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	var req struct {
		RequireSnapshot *bool `json:"requireSnapshot"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	// Snapshots are on unless the caller opts out explicitly.
	requireSnapshot := true
	if req.RequireSnapshot != nil {
		requireSnapshot = *req.RequireSnapshot
	}
	world, err := engine.PromoteEpisode(c.Request.Context(), id, requireSnapshot)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, world)
}

func checkSafeguards(c *gin.Context, engine *memory.Engine) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	proposal, report, err := engine.EpisodeSafeguards(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": proposal, "report": report})
}

func listWorld(c *gin.Context, engine *memory.Engine) {
	memories, err := engine.Store().ListWorldMemories(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories})
}

func getWorld(c *gin.Context, engine *memory.Engine) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	mem, err := engine.Store().GetWorldMemory(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, mem)
}

func pathUUID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ID"})
		return uuid.Nil, false
	}
	return id, true
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var parse *narrative.ParseError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": conflict.Code, "error": err.Error()})
	case errors.As(err, &parse):
		c.JSON(http.StatusBadGateway, gin.H{"code": "parse_failure", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
