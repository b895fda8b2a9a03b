package narrative

import (
	"fmt"
	"strings"

	"github.com/fableforge/chronicle/internal/model"
)

// ImportancePrompt asks the narrator to score a single play event.
func ImportancePrompt(mem *model.SessionMemory) string {
	var b strings.Builder
	b.WriteString("Rate the narrative importance of this role-play event.\n\n")
	fmt.Fprintf(&b, "Event kind: %s\nActor: %s\n", mem.Kind, mem.ActorID)
	if len(mem.Participants) > 0 {
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(mem.Participants, ", "))
	}
	if mem.LocationID != nil {
		fmt.Fprintf(&b, "Location: %s\n", *mem.LocationID)
	}
	fmt.Fprintf(&b, "Content: %s\n\n", mem.Content)
	b.WriteString(`Respond with a JSON object:
{"score": <0.0-1.0>, "reasoning": "<one sentence>", "should_promote": <bool>, "tags": ["<tag>", ...], "emotional_valence": <-1.0 to 1.0>}`)
	return b.String()
}

// EpisodePrompt asks the narrator to condense a session transcript into an episode.
func EpisodePrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("Condense this role-play session transcript into one episode.\n\n")
	b.WriteString(transcript)
	b.WriteString(`

Respond with a JSON object:
{"title": "<short title>", "summary": "<one line>", "narrative": "<full condensed narrative>", "key_moments": [...], "relationship_deltas": {"<a>-><b>": "<change>"}, "themes": [...], "cliffhangers": [...]}`)
	return b.String()
}

// WorldPrompt asks the narrator to propose a canonical world fact from an episode.
func WorldPrompt(ep *model.EpisodeMemory, participants, locations []string) string {
	var b strings.Builder
	b.WriteString("Propose a canonical world fact from this episode. It will become permanent game-world truth.\n\n")
	fmt.Fprintf(&b, "Title: %s\nSummary: %s\nNarrative: %s\n", ep.Title, ep.Summary, ep.Narrative)
	if len(participants) > 0 {
		fmt.Fprintf(&b, "Known participants: %s\n", strings.Join(participants, ", "))
	}
	if len(locations) > 0 {
		fmt.Fprintf(&b, "Known locations: %s\n", strings.Join(locations, ", "))
	}
	b.WriteString(`
Respond with a JSON object:
{"category": "<event|character|location|faction|lore>", "title": "...", "description": "<one paragraph>", "narrative": "<full canonical narrative>", "impact_level": "<minor|major|world_changing>", "related_entities": {"locations": [...], "factions": [...], "characters": [...]}, "consequences": [...], "tags": [...], "public": <bool>, "discovery_requirements": [...]}`)
	return b.String()
}

// SafeguardPrompt asks the narrator to risk-assess a proposed canonical fact.
func SafeguardPrompt(proposal *WorldProposal) string {
	var b strings.Builder
	b.WriteString("Assess the risk of committing this proposed fact to permanent world canon.\n")
	b.WriteString("Flag contradictions with established canon, irreversible character deaths, destroyed locations, or balance-breaking consequences.\n\n")
	fmt.Fprintf(&b, "Title: %s\nImpact level: %s\nDescription: %s\nNarrative: %s\n", proposal.Title, proposal.Impact, proposal.Description, proposal.Narrative)
	if len(proposal.Consequences) > 0 {
		fmt.Fprintf(&b, "Consequences: %s\n", strings.Join(proposal.Consequences, "; "))
	}
	b.WriteString(`
Respond with a JSON object:
{"requires_snapshot": <bool>, "risk_level": "<low|moderate|high>", "detected_threats": [...], "reasoning": "<one sentence>"}`)
	return b.String()
}

// Transcript renders session memories as a timestamp-ordered transcript block.
// The caller is responsible for ordering.
func Transcript(mems []model.SessionMemory) string {
	var b strings.Builder
	for _, m := range mems {
		fmt.Fprintf(&b, "[%s] %s (%s): %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.ActorID, m.Kind, m.Content)
	}
	return b.String()
}
