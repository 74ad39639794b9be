package graph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSONObject finds and decodes the first top-level JSON object in
// s, tolerant of any surrounding prose (spec §4.2 step 3). LLM responses
// occasionally wrap JSON in markdown fences or a leading sentence; this
// scans for balanced braces rather than assuming the response is pure JSON.
func extractJSONObject(s string, out any) error {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return fmt.Errorf("no JSON object found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// skip
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if err := json.Unmarshal([]byte(candidate), out); err != nil {
					return fmt.Errorf("invalid JSON object: %w", err)
				}
				return nil
			}
		}
	}
	return fmt.Errorf("unbalanced JSON object in response")
}
