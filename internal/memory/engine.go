// Package memory implements the narrative memory lifecycle: session events
// are captured and scored, condensed into episodes, promoted into durable
// world canon behind a safeguard, and rolled back through full-set snapshots.
package memory

import (
	"fmt"

	"github.com/fableforge/chronicle/internal/config"
	"github.com/fableforge/chronicle/internal/registry/embed"
	"github.com/fableforge/chronicle/internal/registry/narrator"
	"github.com/fableforge/chronicle/internal/registry/store"
	"github.com/google/uuid"
)

// Promoter schedules background promotion of episodes. Submissions are
// best-effort; a full queue drops the request.
type Promoter interface {
	Submit(episodeID uuid.UUID)
}

// Engine orchestrates the memory lifecycle on top of a MemoryStore, an
// embedder, and a narrator.
type Engine struct {
	store    store.MemoryStore
	embedder embed.Embedder
	narrator narrator.Narrator
	cfg      *config.Config
	promoter Promoter
}

func NewEngine(s store.MemoryStore, e embed.Embedder, n narrator.Narrator, cfg *config.Config) *Engine {
	return &Engine{store: s, embedder: e, narrator: n, cfg: cfg}
}

// SetPromoter attaches the background promoter. Without one, condensation
// still succeeds but never schedules automatic promotion.
func (e *Engine) SetPromoter(p Promoter) {
	e.promoter = p
}

// Store exposes the underlying MemoryStore for read-only route handlers.
func (e *Engine) Store() store.MemoryStore {
	return e.store
}

// EmptyBatchError is returned by condensation when the session has no
// unprocessed events.
type EmptyBatchError struct {
	SessionID string
}

func (e *EmptyBatchError) Error() string {
	return fmt.Sprintf("session %s has no unprocessed events to condense", e.SessionID)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
