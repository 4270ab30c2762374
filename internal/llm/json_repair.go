package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// JSONRepairStats describes what RepairJSON had to do.
type JSONRepairStats struct {
	OriginalBytes int           `json:"original_bytes"`
	RepairedBytes int           `json:"repaired_bytes"`
	Strategies    []string      `json:"strategies"`
	RepairTime    time.Duration `json:"repair_time"`
	WasRepaired   bool          `json:"was_repaired"`
}

var (
	trailingCommaObject = regexp.MustCompile(`,\s*}`)
	trailingCommaArray  = regexp.MustCompile(`,\s*]`)
)

// RepairJSON returns raw unchanged when it is valid JSON. Otherwise it strips
// trailing commas, closes unterminated objects and arrays, and finally hands
// the text to jsonrepair.
func RepairJSON(raw string) (string, JSONRepairStats, error) {
	start := time.Now()
	stats := JSONRepairStats{OriginalBytes: len(raw)}

	if json.Valid([]byte(raw)) {
		stats.RepairedBytes = len(raw)
		stats.RepairTime = time.Since(start)
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired := raw

	if trailingCommaObject.MatchString(repaired) || trailingCommaArray.MatchString(repaired) {
		repaired = trailingCommaObject.ReplaceAllString(repaired, "}")
		repaired = trailingCommaArray.ReplaceAllString(repaired, "]")
		stats.Strategies = append(stats.Strategies, "trailing_commas")
	}

	if completed := closeOpenStructures(repaired); completed != repaired {
		repaired = completed
		stats.Strategies = append(stats.Strategies, "completion")
	}

	if !json.Valid([]byte(repaired)) {
		if fixed, err := jsonrepair.JSONRepair(repaired); err == nil {
			repaired = fixed
			stats.Strategies = append(stats.Strategies, "jsonrepair_library")
		}
	}

	stats.RepairedBytes = len(repaired)
	stats.RepairTime = time.Since(start)

	if !json.Valid([]byte(repaired)) {
		return repaired, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.Strategies))
	}
	return repaired, stats, nil
}

// closeOpenStructures appends the closers for any object or array left open,
// innermost first. Brackets inside string literals are ignored.
func closeOpenStructures(s string) string {
	s = strings.TrimSpace(s)

	var stack []rune
	inString := false
	escaped := false
	for _, ch := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
