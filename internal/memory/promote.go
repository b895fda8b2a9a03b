package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/narrative"
	"github.com/fableforge/chronicle/internal/registry/store"
	"github.com/fableforge/chronicle/internal/security"
	"github.com/google/uuid"
)

// PromoteEpisode turns an episode into a canonical world memory. The world
// insert and the episode's promoted flag flip are one transaction with a
// compare-and-swap, so a concurrent promotion of the same episode loses with
// ConflictError{Code: "already_promoted"}. Unless the caller passes
// requireSnapshot=false to opt out, a full-set snapshot is taken before
// anything is written whenever the safeguard asks for one or the proposal's
// own impact level is risky. The impact clause holds even when the safeguard
// answers no: a world_changing write without a rollback point is never
// acceptable on a lenient safeguard verdict.
func (e *Engine) PromoteEpisode(ctx context.Context, episodeID uuid.UUID, requireSnapshot bool) (*model.WorldMemory, error) {
	ep, err := e.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if ep.PromotedToWorld {
		return nil, &store.ConflictError{Code: "already_promoted", Message: fmt.Sprintf("episode %s was already promoted", episodeID)}
	}

	proposal, err := e.proposeWorldMemory(ctx, ep)
	if err != nil {
		return nil, err
	}
	report := e.checkSafeguards(ctx, proposal)

	if requireSnapshot && (report.RequiresSnapshot || proposal.Impact.IsRisky()) {
		reason := fmt.Sprintf("pre-promotion of episode %q (%s risk)", ep.Title, report.RiskLevel)
		if _, err := e.TakeSnapshot(ctx, model.SnapshotPrePromotion, reason, nil, &episodeID); err != nil {
			return nil, fmt.Errorf("pre-promotion snapshot: %w", err)
		}
	}

	now := time.Now()
	world := &model.WorldMemory{
		ID:                    uuid.New(),
		Category:              proposal.Category,
		Title:                 proposal.Title,
		Description:           proposal.Description,
		Narrative:             proposal.Narrative,
		RelatedEntities:       mergeLocations(proposal.RelatedEntities, ep.LocationIDs),
		SourceEpisodeIDs:      []string{ep.ID.String()},
		Consequences:          proposal.Consequences,
		Tags:                  proposal.Tags,
		Impact:                proposal.Impact,
		Public:                proposal.Public,
		DiscoveryRequirements: proposal.DiscoveryRequirements,
		CreatedAt:             now,
	}

	embedding := e.embedText(ctx, world.Title+"\n"+world.Description+"\n"+world.Narrative)
	if err := e.store.PromoteEpisode(ctx, episodeID, world, embedding); err != nil {
		return nil, err
	}
	if security.PromotionsTotal != nil {
		security.PromotionsTotal.Inc()
	}
	log.Info("Promoted episode to world canon",
		"episode", episodeID, "world", world.ID, "impact", world.Impact, "risk", report.RiskLevel)
	return world, nil
}

// EpisodeSafeguards produces the world proposal and its risk report without
// writing anything. This is the dry run behind the safeguards endpoint.
func (e *Engine) EpisodeSafeguards(ctx context.Context, episodeID uuid.UUID) (*narrative.WorldProposal, *narrative.SafeguardReport, error) {
	ep, err := e.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, nil, err
	}
	proposal, err := e.proposeWorldMemory(ctx, ep)
	if err != nil {
		return nil, nil, err
	}
	report := e.checkSafeguards(ctx, proposal)
	return proposal, report, nil
}

func (e *Engine) proposeWorldMemory(ctx context.Context, ep *model.EpisodeMemory) (*narrative.WorldProposal, error) {
	res, err := e.narrator.Generate(ctx, narrative.WorldPrompt(ep, ep.ParticipantIDs, ep.LocationIDs))
	if err != nil {
		return nil, fmt.Errorf("world proposal for episode %s: %w", ep.ID, err)
	}
	var proposal narrative.WorldProposal
	if err := narrative.Decode(res, "world proposal", &proposal); err != nil {
		return nil, err
	}
	if proposal.Category == "" {
		proposal.Category = "event"
	}
	if proposal.Title == "" {
		proposal.Title = ep.Title
	}
	return &proposal, nil
}

// checkSafeguards fails closed: when the safeguard cannot be consulted, the
// proposal's own impact level decides whether a snapshot is required.
func (e *Engine) checkSafeguards(ctx context.Context, proposal *narrative.WorldProposal) *narrative.SafeguardReport {
	res, err := e.narrator.Generate(ctx, narrative.SafeguardPrompt(proposal))
	if err == nil {
		var report narrative.SafeguardReport
		if decodeErr := narrative.Decode(res, "safeguard report", &report); decodeErr == nil {
			return &report
		}
		err = fmt.Errorf("unparseable safeguard response")
	}
	log.Warn("Safeguard unavailable; failing closed on impact level",
		"impact", proposal.Impact, "err", err)
	return &narrative.SafeguardReport{
		RequiresSnapshot: proposal.Impact.IsRisky(),
		RiskLevel:        model.RiskHigh,
		Reasoning:        "safeguard unavailable; defaulted from impact level",
	}
}

// mergeLocations folds episode location IDs into the proposal's related
// entities, deduplicating case-insensitively and keeping first-seen casing.
func mergeLocations(entities map[string][]string, locationIDs []string) map[string][]string {
	if entities == nil {
		entities = map[string][]string{}
	}
	seen := map[string]bool{}
	merged := make([]string, 0, len(entities["locations"])+len(locationIDs))
	for _, loc := range append(append([]string{}, entities["locations"]...), locationIDs...) {
		key := strings.ToLower(strings.TrimSpace(loc))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, loc)
	}
	if len(merged) > 0 {
		entities["locations"] = merged
	}
	return entities
}
