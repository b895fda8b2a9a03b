package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/narrative"
	"github.com/fableforge/chronicle/internal/registry/embed"
	"github.com/fableforge/chronicle/internal/registry/store"
	"github.com/fableforge/chronicle/internal/security"
	"github.com/google/uuid"
)

// CondenseSession compresses all unprocessed events of a session into one
// episode. The consumed set is exactly the unprocessed set read at call time;
// the episode insert and the processed flags flip in one transaction. An
// unparseable narrative is fatal here, unlike importance scoring.
func (e *Engine) CondenseSession(ctx context.Context, sessionID string) (*model.EpisodeMemory, error) {
	if sessionID == "" {
		return nil, &store.ValidationError{Field: "sessionId", Message: "required"}
	}
	unprocessed := false
	mems, err := e.store.ListSessionMemories(ctx, sessionID, store.SessionMemoryQuery{Processed: &unprocessed})
	if err != nil {
		return nil, err
	}
	if len(mems) == 0 {
		return nil, &EmptyBatchError{SessionID: sessionID}
	}

	transcript := narrative.Transcript(mems)
	res, err := e.narrator.Generate(ctx, narrative.EpisodePrompt(transcript))
	if err != nil {
		return nil, fmt.Errorf("condense session %s: %w", sessionID, err)
	}
	var summary narrative.EpisodeSummary
	if err := narrative.Decode(res, "episode summary", &summary); err != nil {
		return nil, err
	}

	total := 0.0
	for _, m := range mems {
		total += m.Importance
	}
	importance := total / float64(len(mems))

	now := time.Now()
	ep := &model.EpisodeMemory{
		ID:                 uuid.New(),
		SessionID:          sessionID,
		Title:              summary.Title,
		Summary:            summary.Summary,
		Narrative:          summary.Narrative,
		KeyMoments:         summary.KeyMoments,
		RelationshipDeltas: summary.RelationshipDeltas,
		Themes:             summary.Themes,
		Cliffhangers:       summary.Cliffhangers,
		ParticipantIDs:     collectParticipants(mems),
		LocationIDs:        collectLocations(mems),
		Importance:         importance,
		CreatedAt:          now,
	}

	ttlHours := model.DefaultSettings().EpisodeTTLHours
	if settings, err := e.store.GetSettings(ctx); err == nil {
		ttlHours = settings.EpisodeTTLHours
	}
	if ttlHours > 0 {
		expires := now.Add(time.Duration(ttlHours) * time.Hour)
		ep.ExpiresAt = &expires
	}

	embedding := e.embedText(ctx, ep.Title+"\n"+ep.Summary+"\n"+ep.Narrative)

	consumed := make([]uuid.UUID, len(mems))
	for i, m := range mems {
		consumed[i] = m.ID
	}
	if err := e.store.CreateEpisode(ctx, ep, embedding, consumed); err != nil {
		return nil, err
	}
	if security.EpisodesCondensedTotal != nil {
		security.EpisodesCondensedTotal.Inc()
	}
	log.Info("Condensed session into episode",
		"session", sessionID, "episode", ep.ID, "events", len(mems), "importance", importance)

	if importance >= e.cfg.PromoteThreshold && e.promoter != nil {
		e.promoter.Submit(ep.ID)
	}
	return ep, nil
}

// embedText returns nil on failure; retrieval then degrades instead of the
// write path failing.
func (e *Engine) embedText(ctx context.Context, text string) []float32 {
	vec, err := embed.EmbedText(ctx, e.embedder, text)
	if err != nil {
		log.Warn("Embedding failed; continuing without a vector", "err", err)
		return nil
	}
	return vec
}

func collectParticipants(mems []model.SessionMemory) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, m := range mems {
		add(m.ActorID)
		for _, p := range m.Participants {
			add(p)
		}
	}
	sort.Strings(out)
	return out
}

func collectLocations(mems []model.SessionMemory) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mems {
		if m.LocationID == nil {
			continue
		}
		key := strings.ToLower(*m.LocationID)
		if key != "" && !seen[key] {
			seen[key] = true
			out = append(out, *m.LocationID)
		}
	}
	sort.Strings(out)
	return out
}
