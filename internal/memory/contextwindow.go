package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/registry/embed"
	"github.com/fableforge/chronicle/internal/registry/store"
)

// ContextRequest shapes context assembly. Zero limits fall back to the
// configured defaults.
type ContextRequest struct {
	SessionID       string  `json:"sessionId"`
	Query           string  `json:"query"`
	ActorID         string  `json:"actorId,omitempty"`
	MaxRecent       int     `json:"maxRecent,omitempty"`
	MaxEpisodic     int     `json:"maxEpisodic,omitempty"`
	ImportanceFloor float64 `json:"importanceFloor,omitempty"`
}

// SessionContext assembles a bounded prompt-context block: the most recent
// unprocessed events, older high-importance events, and episode / world canon
// retrieved by similarity to the query. It is a pure read; when embedding the
// query fails, the similarity sections are skipped and the rest is returned.
func (e *Engine) SessionContext(ctx context.Context, req ContextRequest) (string, error) {
	if req.SessionID == "" {
		return "", &store.ValidationError{Field: "sessionId", Message: "required"}
	}
	if req.MaxRecent <= 0 {
		req.MaxRecent = e.cfg.ContextMaxRecent
	}
	if req.MaxEpisodic <= 0 {
		req.MaxEpisodic = e.cfg.ContextMaxEpisodic
	}
	if req.ImportanceFloor <= 0 {
		req.ImportanceFloor = e.cfg.ContextImportanceFloor
	}

	unprocessed := false
	recent, err := e.store.ListSessionMemories(ctx, req.SessionID, store.SessionMemoryQuery{
		Processed:   &unprocessed,
		NewestFirst: true,
		Limit:       req.MaxRecent,
	})
	if err != nil {
		return "", err
	}

	processed := true
	candidates, err := e.store.ListSessionMemories(ctx, req.SessionID, store.SessionMemoryQuery{
		Processed:     &processed,
		MinImportance: req.ImportanceFloor,
		NewestFirst:   true,
		Limit:         req.MaxEpisodic * 4,
	})
	if err != nil {
		return "", err
	}
	important := rankImportant(candidates, req.MaxEpisodic)

	var episodes []store.ScoredEpisode
	var canon []store.ScoredWorldMemory
	if req.Query != "" {
		if vec, embedErr := embed.EmbedText(ctx, e.embedder, req.Query); embedErr != nil {
			log.Warn("Query embedding failed; returning partial context", "session", req.SessionID, "err", embedErr)
		} else {
			if episodes, err = e.store.SearchEpisodes(ctx, vec, req.MaxEpisodic, e.cfg.ContextSimilarityFloor); err != nil {
				return "", err
			}
			if canon, err = e.store.SearchWorldMemories(ctx, vec, e.cfg.ContextTopK, e.cfg.ContextSimilarityFloor); err != nil {
				return "", err
			}
		}
	}

	return e.renderContext(recent, important, episodes, canon), nil
}

func (e *Engine) renderContext(recent, important []model.SessionMemory, episodes []store.ScoredEpisode, canon []store.ScoredWorldMemory) string {
	var b strings.Builder

	if len(canon) > 0 {
		b.WriteString("## World canon\n")
		for _, hit := range canon {
			if !hit.Memory.Public {
				continue
			}
			fmt.Fprintf(&b, "- [%s] %s: %s\n", hit.Memory.Category, hit.Memory.Title, hit.Memory.Description)
		}
		b.WriteString("\n")
	}

	if len(episodes) > 0 {
		b.WriteString("## Past episodes\n")
		for _, hit := range episodes {
			fmt.Fprintf(&b, "- %s: %s\n", hit.Episode.Title, hit.Episode.Summary)
		}
		b.WriteString("\n")
	}

	if len(important) > 0 {
		b.WriteString("## Important moments\n")
		for _, m := range important {
			fmt.Fprintf(&b, "- %s (%s): %s\n", m.ActorID, m.Kind, m.Content)
		}
		b.WriteString("\n")
	}

	if len(recent) > 0 {
		b.WriteString("## Recent events\n")
		// Recent events read oldest to newest.
		for i := len(recent) - 1; i >= 0; i-- {
			m := recent[i]
			fmt.Fprintf(&b, "- %s (%s): %s\n", m.ActorID, m.Kind, m.Content)
		}
	}

	return truncateRunes(strings.TrimRight(b.String(), "\n"), e.cfg.ContextMaxChars)
}

// rankImportant orders processed candidates by importance blended with a
// recency bonus decaying linearly across the candidate window, keeps the top
// limit items, and returns them in chronological order for rendering.
func rankImportant(candidates []model.SessionMemory, limit int) []model.SessionMemory {
	if len(candidates) == 0 || limit <= 0 {
		return nil
	}
	type scored struct {
		mem   model.SessionMemory
		score float64
	}
	ranked := make([]scored, len(candidates))
	for i, m := range candidates {
		// Candidates arrive newest first.
		recency := 0.25 * (1 - float64(i)/float64(len(candidates)))
		ranked[i] = scored{mem: m, score: m.Importance + recency}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })
	if limit > len(ranked) {
		limit = len(ranked)
	}
	top := ranked[:limit]
	sort.Slice(top, func(a, b int) bool { return top[a].mem.CreatedAt.Before(top[b].mem.CreatedAt) })
	out := make([]model.SessionMemory, limit)
	for i, sc := range top {
		out[i] = sc.mem
	}
	return out
}

func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
