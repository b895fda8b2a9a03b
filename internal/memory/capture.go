package memory

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/narrative"
	"github.com/fableforge/chronicle/internal/registry/store"
	"github.com/fableforge/chronicle/internal/security"
	"github.com/google/uuid"
)

// CaptureRequest is one raw play event to record.
type CaptureRequest struct {
	SessionID    string          `json:"sessionId"`
	ActorID      string          `json:"actorId"`
	Kind         model.EventKind `json:"kind"`
	Content      string          `json:"content"`
	Participants []string        `json:"participants,omitempty"`
	LocationID   *string         `json:"locationId,omitempty"`
}

// CaptureEvent scores and stores a single play event. Scoring failure never
// blocks capture: an unusable narrator response falls back to a neutral
// importance of 0.5.
func (e *Engine) CaptureEvent(ctx context.Context, req CaptureRequest) (*model.SessionMemory, error) {
	if req.SessionID == "" {
		return nil, &store.ValidationError{Field: "sessionId", Message: "required"}
	}
	if req.ActorID == "" {
		return nil, &store.ValidationError{Field: "actorId", Message: "required"}
	}
	if req.Content == "" {
		return nil, &store.ValidationError{Field: "content", Message: "required"}
	}
	if !req.Kind.Valid() {
		return nil, &store.ValidationError{Field: "kind", Message: "must be dialogue, action, or observation"}
	}

	now := time.Now()
	mem := &model.SessionMemory{
		ID:           uuid.New(),
		SessionID:    req.SessionID,
		ActorID:      req.ActorID,
		Kind:         req.Kind,
		Content:      req.Content,
		Participants: req.Participants,
		LocationID:   req.LocationID,
		CreatedAt:    now,
	}

	analysis := e.scoreEvent(ctx, mem)
	mem.Importance = clamp(analysis.Score, 0, 1)
	mem.Valence = clamp(analysis.EmotionalValence, -1, 1)
	mem.Tags = analysis.Tags

	ttlHours := model.DefaultSettings().SessionTTLHours
	if settings, err := e.store.GetSettings(ctx); err == nil {
		ttlHours = settings.SessionTTLHours
	} else {
		log.Warn("Using default session TTL; settings unavailable", "err", err)
	}
	if ttlHours > 0 {
		expires := now.Add(time.Duration(ttlHours) * time.Hour)
		mem.ExpiresAt = &expires
	}

	if err := e.store.CreateSessionMemory(ctx, mem); err != nil {
		return nil, err
	}
	if security.EventsCapturedTotal != nil {
		security.EventsCapturedTotal.Inc()
	}
	return mem, nil
}

// scoreEvent asks the narrator for an importance analysis, falling back to
// the neutral default when generation fails or nothing parseable comes back.
func (e *Engine) scoreEvent(ctx context.Context, mem *model.SessionMemory) narrative.ImportanceAnalysis {
	res, err := e.narrator.Generate(ctx, narrative.ImportancePrompt(mem))
	if err != nil {
		log.Warn("Importance scoring failed; using neutral default", "session", mem.SessionID, "err", err)
		e.countFallback()
		return narrative.DefaultImportance()
	}
	analysis, err := narrative.DecodeImportance(res)
	if err != nil {
		log.Warn("Importance response unparseable; using neutral default", "session", mem.SessionID, "err", err)
		e.countFallback()
		return narrative.DefaultImportance()
	}
	return analysis
}

func (e *Engine) countFallback() {
	if security.ImportanceFallbacksTotal != nil {
		security.ImportanceFallbacksTotal.Inc()
	}
}
