package narrative

import (
	"encoding/json"
	"fmt"

	"github.com/fableforge/chronicle/internal/model"
)

// Result is the tagged outcome of a narrative-generation call. Exactly one of
// the two variants is populated: a structured JSON payload when the provider
// produced one, or the raw completion text when it did not. Total provider
// failure is an error from the Narrator, not a Result variant.
type Result struct {
	structured json.RawMessage
	raw        string
}

// Structured wraps a provider-typed JSON payload.
func Structured(payload json.RawMessage) Result {
	return Result{structured: payload}
}

// RawText wraps free-form completion text that needs fallback parsing.
func RawText(text string) Result {
	return Result{raw: text}
}

// IsStructured reports whether the provider returned a typed payload.
func (r Result) IsStructured() bool { return len(r.structured) > 0 }

// Text returns the raw completion text, or the structured payload verbatim.
func (r Result) Text() string {
	if r.IsStructured() {
		return string(r.structured)
	}
	return r.raw
}

// ParseError indicates a structured value could not be extracted from a
// narrative result in any known shape.
type ParseError struct {
	Target string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s from narrative output: %s", e.Target, e.Reason)
}

// ImportanceAnalysis is the scoring result for a single play event.
type ImportanceAnalysis struct {
	Score            float64  `json:"score"`
	Reasoning        string   `json:"reasoning"`
	ShouldPromote    bool     `json:"should_promote"`
	Tags             []string `json:"tags"`
	EmotionalValence float64  `json:"emotional_valence"`
}

// DefaultImportance is the safe substitute used when scoring fails outright,
// so event capture never blocks gameplay.
func DefaultImportance() ImportanceAnalysis {
	return ImportanceAnalysis{Score: 0.5, ShouldPromote: false, Tags: []string{}, EmotionalValence: 0}
}

// EpisodeSummary is the condensed narrative produced from a session transcript.
type EpisodeSummary struct {
	Title              string            `json:"title"`
	Summary            string            `json:"summary"`
	Narrative          string            `json:"narrative"`
	KeyMoments         []string          `json:"key_moments"`
	RelationshipDeltas map[string]string `json:"relationship_deltas"`
	Themes             []string          `json:"themes"`
	Cliffhangers       []string          `json:"cliffhangers"`
}

// WorldProposal is the canonical narrative proposed for promotion.
type WorldProposal struct {
	Category              string              `json:"category"`
	Title                 string              `json:"title"`
	Description           string              `json:"description"`
	Narrative             string              `json:"narrative"`
	Impact                model.ImpactLevel   `json:"impact_level"`
	RelatedEntities       map[string][]string `json:"related_entities"`
	Consequences          []string            `json:"consequences"`
	Tags                  []string            `json:"tags"`
	Public                bool                `json:"public"`
	DiscoveryRequirements []string            `json:"discovery_requirements"`
}

// SafeguardReport is the risk classification of a proposed promotion.
type SafeguardReport struct {
	RequiresSnapshot bool            `json:"requires_snapshot"`
	RiskLevel        model.RiskLevel `json:"risk_level"`
	DetectedThreats  []string        `json:"detected_threats"`
	Reasoning        string          `json:"reasoning"`
}
