package narrative

import (
	"encoding/json"
	"strconv"
	"strings"
)

// extractor attempts to recover a JSON object from free-form completion text.
// Extractors are pure and tried in order; the first hit wins.
type extractor func(text string) (json.RawMessage, bool)

var extractors = []extractor{
	extractBareJSON,
	extractFencedJSON,
	extractEmbeddedJSON,
}

// Decode extracts a structured value from a narrative result. The structured
// variant is unmarshalled directly; the raw variant runs through the extractor
// chain. Returns *ParseError when no strategy yields a JSON object.
func Decode(res Result, target string, out any) error {
	if res.IsStructured() {
		if err := json.Unmarshal(res.structured, out); err != nil {
			return &ParseError{Target: target, Reason: "structured payload: " + err.Error()}
		}
		return nil
	}
	for _, try := range extractors {
		payload, ok := try(res.raw)
		if !ok {
			continue
		}
		if err := json.Unmarshal(payload, out); err == nil {
			return nil
		}
	}
	return &ParseError{Target: target, Reason: "no JSON object found in completion text"}
}

// DecodeImportance extracts an ImportanceAnalysis, adding one more fallback:
// a tolerant key=value line parse for models that ignore the JSON instruction.
func DecodeImportance(res Result) (ImportanceAnalysis, error) {
	var analysis ImportanceAnalysis
	if err := Decode(res, "importance analysis", &analysis); err == nil {
		return analysis, nil
	}
	if analysis, ok := parseImportanceKV(res.raw); ok {
		return analysis, nil
	}
	return ImportanceAnalysis{}, &ParseError{Target: "importance analysis", Reason: "no JSON object or key=value pairs found"}
}

func extractBareJSON(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil, false
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

func extractFencedJSON(text string) (json.RawMessage, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return nil, false
	}
	rest := text[start+3:]
	// Skip an optional language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "json" || firstLine == "" {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return nil, false
	}
	return extractBareJSON(rest[:end])
}

// extractEmbeddedJSON finds the first balanced top-level object anywhere in
// the text, tolerating prose before and after it.
func extractEmbeddedJSON(text string) (json.RawMessage, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return json.RawMessage(candidate), true
				}
				return nil, false
			}
		}
	}
	return nil, false
}

// parseImportanceKV parses lines of the form "score: 0.8" / "tags = a, b".
// Returns ok only when at least a score was found.
func parseImportanceKV(text string) (ImportanceAnalysis, bool) {
	analysis := DefaultImportance()
	foundScore := false
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := splitKV(line)
		if !ok {
			continue
		}
		switch key {
		case "score", "importance", "importance_score":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				analysis.Score = f
				foundScore = true
			}
		case "should_promote", "promote":
			if b, err := strconv.ParseBool(value); err == nil {
				analysis.ShouldPromote = b
			}
		case "emotional_valence", "valence":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				analysis.EmotionalValence = f
			}
		case "tags":
			analysis.Tags = splitList(value)
		case "reasoning":
			analysis.Reasoning = value
		}
	}
	return analysis, foundScore
}

func splitKV(line string) (key, value string, ok bool) {
	idx := strings.IndexAny(line, ":=")
	if idx < 0 {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(strings.Trim(line[:idx], "-* ")))
	value = strings.TrimSpace(strings.Trim(line[idx+1:], `"' `))
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
