package graph

import (
	"context"
	"strings"
	"time"
)

const taskParseTimeout = 25 * time.Second

// runTaskParse implements spec §4.3.
func runTaskParse(ctx context.Context, deps *Deps, state *State) error {
	query := state.RewrittenOrMerged()
	userPrompt, err := buildTaskParseUserPrompt(query, deps.KB.Whitelist(), deps.KB.Hints())
	if err != nil {
		return newNodeError("task_parse_invalid_intent", "build prompt: %v", err)
	}

	raw, err := deps.LLM.Complete(ctx, taskParseSystemPrompt, userPrompt, 0.1, taskParseTimeout)
	if err != nil {
		return newNodeError("task_parse_invalid_intent", "completion failed: %v", err)
	}

	var parsed struct {
		Entities   []Entity  `json:"entities"`
		Dimensions []string  `json:"dimensions"`
		Metrics    []string  `json:"metrics"`
		Filters    []Filter  `json:"filters"`
		TimeRange  TimeRange `json:"time_range"`
		Operation  string    `json:"operation"`
		Confidence *float64  `json:"confidence"`
	}
	if err := extractJSONObject(raw, &parsed); err != nil {
		return newNodeError("task_parse_invalid_intent", "%v", err)
	}
	if parsed.Confidence == nil {
		return newNodeError("task_parse_missing_confidence", "confidence field absent")
	}

	result := &ParseResult{
		Intent:     IntentBusinessQuery, // precondition of this node (spec §4.3)
		Entities:   trimEntities(parsed.Entities),
		Dimensions: trimStrings(parsed.Dimensions),
		Metrics:    trimStrings(parsed.Metrics),
		TimeRange:  TimeRange{Start: strings.TrimSpace(parsed.TimeRange.Start), End: strings.TrimSpace(parsed.TimeRange.End)},
		Operation:  coerceOperation(parsed.Operation),
		Confidence: *parsed.Confidence,
	}

	// Drop filters whose field is not whitelisted or whose op is not allowed (spec §4.3).
	for _, f := range parsed.Filters {
		field := strings.TrimSpace(f.Field)
		op := strings.ToLower(strings.TrimSpace(f.Op))
		if !deps.KB.IsWhitelisted(field) {
			continue
		}
		if _, ok := allowedFilterOps[op]; !ok {
			continue
		}
		result.Filters = append(result.Filters, Filter{Field: field, Op: op, Value: f.Value})
	}

	state.ParseResult = result
	return nil
}

func trimEntities(in []Entity) []Entity {
	out := make([]Entity, 0, len(in))
	for _, e := range in {
		out = append(out, Entity{Type: strings.TrimSpace(e.Type), Value: strings.TrimSpace(e.Value)})
	}
	return out
}

func trimStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

// coerceOperation coerces to the allowed set, defaulting to detail when
// the model's answer isn't recognized (spec §4.3: "coerce operation to
// the allowed set").
func coerceOperation(op string) Operation {
	candidate := Operation(strings.ToLower(strings.TrimSpace(op)))
	if _, ok := allowedOperations[candidate]; ok {
		return candidate
	}
	return OperationDetail
}
