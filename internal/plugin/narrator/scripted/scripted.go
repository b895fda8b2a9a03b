package scripted

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fableforge/chronicle/internal/model"
	"github.com/fableforge/chronicle/internal/narrative"
	registrynarrator "github.com/fableforge/chronicle/internal/registry/narrator"
)

func init() {
	registrynarrator.Register(registrynarrator.Plugin{
		Name: "scripted",
		Loader: func(_ context.Context) (registrynarrator.Narrator, error) {
			return &Narrator{}, nil
		},
	})
}

// Narrator produces deterministic, rule-based completions without any model
// call. Scores and risk levels are derived from keyword heuristics, so
// development setups and tests get stable output.
type Narrator struct{}

func (n *Narrator) ModelName() string { return "scripted" }

// dramatic terms that push importance and risk upward
var dramaticTerms = []string{"dies", "died", "death", "killed", "destroyed", "betrayed", "war", "crowned", "collapsed"}

func (n *Narrator) Generate(_ context.Context, prompt string) (narrative.Result, error) {
	switch {
	case strings.HasPrefix(prompt, "Rate the narrative importance"):
		return n.importance(prompt), nil
	case strings.HasPrefix(prompt, "Condense this role-play session"):
		return n.episode(prompt), nil
	case strings.HasPrefix(prompt, "Propose a canonical world fact"):
		return n.world(prompt), nil
	case strings.HasPrefix(prompt, "Assess the risk"):
		return n.safeguard(prompt), nil
	}
	return narrative.RawText("I do not recognize this request."), nil
}

func dramaticScore(prompt string) (float64, []string) {
	lower := strings.ToLower(prompt)
	score := 0.3
	var hits []string
	for _, term := range dramaticTerms {
		if strings.Contains(lower, term) {
			score += 0.2
			hits = append(hits, term)
		}
	}
	if score > 1 {
		score = 1
	}
	return score, hits
}

func (n *Narrator) importance(prompt string) narrative.Result {
	score, hits := dramaticScore(prompt)
	return structured(narrative.ImportanceAnalysis{
		Score:         score,
		Reasoning:     "scripted heuristic based on dramatic keywords",
		ShouldPromote: score >= 0.75,
		Tags:          hits,
	})
}

func (n *Narrator) episode(prompt string) narrative.Result {
	firstLine := ""
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "[") {
			firstLine = line
			break
		}
	}
	return structured(narrative.EpisodeSummary{
		Title:      "A Session Remembered",
		Summary:    "The party's deeds, condensed.",
		Narrative:  strings.TrimSpace("What happened: " + firstLine),
		KeyMoments: []string{firstLine},
	})
}

func (n *Narrator) world(prompt string) narrative.Result {
	score, hits := dramaticScore(prompt)
	impact := "minor"
	if score >= 0.7 {
		impact = "major"
	}
	if score >= 0.9 {
		impact = "world_changing"
	}
	title := "An Event of Note"
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "Title: ") {
			title = strings.TrimPrefix(line, "Title: ")
			break
		}
	}
	return structured(map[string]any{
		"category":     "event",
		"title":        title,
		"description":  "A scripted canonical record of the episode.",
		"narrative":    "The chronicle records that " + title + " came to pass.",
		"impact_level": impact,
		"tags":         hits,
		"public":       true,
	})
}

func (n *Narrator) safeguard(prompt string) narrative.Result {
	lower := strings.ToLower(prompt)
	risky := strings.Contains(lower, "impact level: world_changing") || strings.Contains(lower, "impact level: major")
	// Score only the proposal's own lines; the surrounding instructions
	// mention deaths and destruction on every call.
	var content []string
	for _, line := range strings.Split(prompt, "\n") {
		for _, prefix := range []string{"Title: ", "Description: ", "Narrative: ", "Consequences: "} {
			if strings.HasPrefix(line, prefix) {
				content = append(content, line)
			}
		}
	}
	_, hits := dramaticScore(strings.Join(content, "\n"))
	level := "low"
	if len(hits) > 0 {
		level = "moderate"
	}
	if risky {
		level = "high"
	}
	return structured(narrative.SafeguardReport{
		RequiresSnapshot: risky || len(hits) > 0,
		RiskLevel:        model.RiskLevel(level),
		DetectedThreats:  hits,
		Reasoning:        "scripted heuristic based on impact level and dramatic keywords",
	})
}

func structured(v any) narrative.Result {
	payload, err := json.Marshal(v)
	if err != nil {
		return narrative.RawText(fmt.Sprintf("marshal failure: %v", err))
	}
	return narrative.Structured(payload)
}

var _ registrynarrator.Narrator = (*Narrator)(nil)
