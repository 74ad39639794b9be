// Package sqlsafety implements the read-only gate shared by the
// sql_validate node and the hidden_context probe node (spec §4.5 step 2,
// §4.6 "All queries issued here must pass the same read-only gate").
package sqlsafety

import (
	"regexp"
	"strings"
)

var writeKeywords = []string{
	"insert", "update", "delete", "replace",
	"alter", "drop", "truncate", "create", "grant", "revoke",
}

var wordBoundary = regexp.MustCompile(`\b[a-z]+\b`)

// ErrReadonlyViolation is the error code surfaced as sql_validate_readonly_violation.
const ErrReadonlyViolation = "sql_validate_readonly_violation"

// Check enforces the read-only gate: the lowered SQL must begin with
// "select" or "with", and must not contain any write keyword as a whole
// word. It returns ("", true) when the SQL passes, or (reason, false)
// when it is rejected.
func Check(sql string) (reason string, ok bool) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return "empty sql", false
	}
	lowered := strings.ToLower(trimmed)
	if !strings.HasPrefix(lowered, "select") && !strings.HasPrefix(lowered, "with") {
		return ErrReadonlyViolation, false
	}

	words := make(map[string]struct{})
	for _, w := range wordBoundary.FindAllString(lowered, -1) {
		words[w] = struct{}{}
	}
	for _, kw := range writeKeywords {
		if _, found := words[kw]; found {
			return ErrReadonlyViolation, false
		}
	}
	return "", true
}
