package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSON = errors.New("no JSON found in response")

// DecodeJSONResponse extracts the JSON document from a model response,
// repairs it when needed and decodes it into target.
func DecodeJSONResponse(raw string, target any) (JSONRepairStats, error) {
	doc := extractJSON(raw)
	if doc == "" {
		return JSONRepairStats{}, errNoJSON
	}

	repaired, stats, err := RepairJSON(doc)
	if err != nil {
		return stats, err
	}

	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return stats, fmt.Errorf("decode repaired JSON: %w", err)
	}
	return stats, nil
}

// extractJSON pulls a JSON object or array out of text that may be wrapped
// in a markdown fence or surrounded by prose.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	if strings.Contains(raw, "```") {
		var lines []string
		inFence := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if inFence {
					break
				}
				inFence = true
				continue
			}
			if inFence {
				lines = append(lines, line)
			}
		}
		if body := strings.TrimSpace(strings.Join(lines, "\n")); body != "" {
			return body
		}
	}

	start := strings.IndexAny(raw, "{[")
	if start == -1 {
		return ""
	}
	open := raw[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return raw[start:]
}
