package graph

import (
	"context"
	"strings"
	"time"
)

const intentTimeout = 20 * time.Second

// runIntentRecognition implements spec §4.2.
func runIntentRecognition(ctx context.Context, deps *Deps, state *State) error {
	userPrompt, err := buildIntentUserPrompt(state.Message, state.HistoryUserMessages, deps.KB.Hints())
	if err != nil {
		return newNodeError("intent_invalid", "build prompt: %v", err)
	}

	raw, err := deps.LLM.Complete(ctx, intentSystemPrompt, userPrompt, 0.1, intentTimeout)
	if err != nil {
		return newNodeError("intent_invalid", "completion failed: %v", err)
	}

	var parsed struct {
		Intent         string  `json:"intent"`
		IsFollowup     bool    `json:"is_followup"`
		Confidence     float64 `json:"confidence"`
		MergedQuery    string  `json:"merged_query"`
		RewrittenQuery string  `json:"rewritten_query"`
	}
	if err := extractJSONObject(raw, &parsed); err != nil {
		return newNodeError("intent_invalid", "%v", err)
	}

	if parsed.Intent != string(IntentChat) && parsed.Intent != string(IntentBusinessQuery) {
		return newNodeError("intent_missing_field", "invalid intent %q", parsed.Intent)
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return newNodeError("intent_missing_field", "confidence %v out of range", parsed.Confidence)
	}
	if strings.TrimSpace(parsed.MergedQuery) == "" || strings.TrimSpace(parsed.RewrittenQuery) == "" {
		return newNodeError("intent_missing_field", "merged_query/rewritten_query must be non-empty")
	}

	result := &IntentResult{
		Intent:         Intent(parsed.Intent),
		IsFollowup:     parsed.IsFollowup,
		Confidence:     parsed.Confidence,
		MergedQuery:    strings.TrimSpace(parsed.MergedQuery),
		RewrittenQuery: strings.TrimSpace(parsed.RewrittenQuery),
		Threshold:      state.Threshold,
	}

	// Intent coercion invariant (spec §3, §8): confidence below threshold
	// always resolves to chat, regardless of what the model said.
	if result.Confidence < state.Threshold {
		result.Intent = IntentChat
	}

	state.IntentResult = result
	return nil
}
