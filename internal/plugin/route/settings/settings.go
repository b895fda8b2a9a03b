// Package settings serves the memory settings singleton.
package settings

import (
	"errors"
	"net/http"

	"github.com/fableforge/chronicle/internal/model"
	registrystore "github.com/fableforge/chronicle/internal/registry/store"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts the settings endpoints on the given router.
func MountRoutes(r *gin.Engine, store registrystore.MemoryStore) {
	g := r.Group("/v1/settings")

	g.GET("", func(c *gin.Context) { getSettings(c, store) })
	g.PUT("", func(c *gin.Context) { updateSettings(c, store) })
}

func getSettings(c *gin.Context, store registrystore.MemoryStore) {
	settings, err := store.GetSettings(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func updateSettings(c *gin.Context, store registrystore.MemoryStore) {
	var settings model.MemorySettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if settings.SessionTTLHours < 0 || settings.EpisodeTTLHours < 0 || settings.SnapshotRetentionDays < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "TTL and retention values must not be negative"})
		return
	}
	updated, err := store.UpdateSettings(c.Request.Context(), settings)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
