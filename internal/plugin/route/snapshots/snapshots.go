// Package snapshots serves snapshot creation, inspection, and unwinding.
package snapshots

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fableforge/chronicle/internal/memory"
	"github.com/fableforge/chronicle/internal/model"
	registrystore "github.com/fableforge/chronicle/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the snapshot endpoints on the given router.
func MountRoutes(r *gin.Engine, engine *memory.Engine) {
	g := r.Group("/v1/snapshots")

	g.POST("", func(c *gin.Context) { createSnapshot(c, engine) })
	g.GET("", func(c *gin.Context) { listSnapshots(c, engine) })
	g.GET("/:id", func(c *gin.Context) { getSnapshot(c, engine) })
	g.GET("/:id/preview", func(c *gin.Context) { previewUnwind(c, engine) })
	g.POST("/:id/unwind", func(c *gin.Context) { unwind(c, engine) })
}

func createSnapshot(c *gin.Context, engine *memory.Engine) {
	var req struct {
		Reason        string `json:"reason"`
		WorldMemoryID string `json:"worldMemoryId"`
		EpisodeID     string `json:"episodeId"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual snapshot"
	}
	worldMemoryID, ok := optionalUUID(c, "worldMemoryId", req.WorldMemoryID)
	if !ok {
		return
	}
	episodeID, ok := optionalUUID(c, "episodeId", req.EpisodeID)
	if !ok {
		return
	}
	snap, err := engine.TakeSnapshot(c.Request.Context(), model.SnapshotManual, req.Reason, worldMemoryID, episodeID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func listSnapshots(c *gin.Context, engine *memory.Engine) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			limit = i
		}
	}
	snaps, err := engine.Store().ListSnapshots(c.Request.Context(), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func getSnapshot(c *gin.Context, engine *memory.Engine) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	snap, err := engine.Store().GetSnapshot(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func previewUnwind(c *gin.Context, engine *memory.Engine) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	result, err := engine.PreviewUnwind(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func unwind(c *gin.Context, engine *memory.Engine) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	var req struct {
		ActorID string `json:"actorId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ActorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "actorId is required", "field": "actorId"})
		return
	}
	result, err := engine.Unwind(c.Request.Context(), id, req.ActorID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func optionalUUID(c *gin.Context, field, value string) (*uuid.UUID, bool) {
	if value == "" {
		return nil, true
	}
	id, err := uuid.Parse(value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": field + " must be a UUID", "field": field})
		return nil, false
	}
	return &id, true
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

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": conflict.Code, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
