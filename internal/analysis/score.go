package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// score decodes a classifier score given as an integer, a fractional number
// or a numeric string. Fractions are rounded half away from zero; range
// clamping happens after decoding.
type score int

func (s *score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}

	lit := string(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		lit = strings.TrimSuffix(strings.TrimSpace(text), "%")
		if lit == "" {
			*s = 0
			return nil
		}
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(lit), 64)
	if err != nil || math.IsNaN(f) {
		return fmt.Errorf("invalid score %s", data)
	}
	switch {
	case f >= math.MaxInt32:
		*s = math.MaxInt32
	case f <= math.MinInt32:
		*s = math.MinInt32
	default:
		*s = score(math.Round(f))
	}
	return nil
}
