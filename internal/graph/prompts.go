package graph

import (
	"embed"
	"encoding/json"
	"fmt"
)

// promptsFS embeds the fixed system prompts, grounded on
// agent/pkg/workflow/v3/prompts.go's LoadPrompts() embedded-FS pattern.
//
//go:embed prompts/*.txt
var promptsFS embed.FS

func mustLoadPrompt(name string) string {
	data, err := promptsFS.ReadFile("prompts/" + name)
	if err != nil {
		panic(fmt.Sprintf("graph: missing embedded prompt %q: %v", name, err))
	}
	return string(data)
}

var (
	intentSystemPrompt    = mustLoadPrompt("intent_system.txt")
	taskParseSystemPrompt = mustLoadPrompt("taskparse_system.txt")
	sqlGenSystemPrompt    = mustLoadPrompt("sqlgen_system.txt")
	summarySystemPrompt   = mustLoadPrompt("summary_system.txt")
	chatSystemPrompt      = mustLoadPrompt("chat_system.txt")
)

func buildChatUserPrompt(message string, history []string) (string, error) {
	payload := map[string]any{
		"message":               message,
		"history_user_messages": lastN(history, 4),
	}
	return marshalPrompt(payload)
}

func buildIntentUserPrompt(message string, history []string, kbHints string) (string, error) {
	payload := map[string]any{
		"message":               message,
		"history_user_messages": lastN(history, 4),
		"schema":                kbHints,
		"output_contract":       "intent, is_followup, confidence, merged_query, rewritten_query",
	}
	return marshalPrompt(payload)
}

func buildTaskParseUserPrompt(query string, whitelist []string, kbHints string) (string, error) {
	payload := map[string]any{
		"query":               query,
		"kb_field_whitelist":  whitelist,
		"alias_hints":         kbHints,
		"output_schema":       "entities, dimensions, metrics, filters, time_range, operation, confidence",
	}
	return marshalPrompt(payload)
}

func buildSQLGenUserPrompt(query string, task *ParseResult, whitelist []string, kbHints string, hc *HiddenContextResult) (string, error) {
	payload := map[string]any{
		"rewritten_query":    query,
		"task":               task,
		"kb_field_whitelist": whitelist,
		"kb_schema_hints":    kbHints,
	}
	if hc != nil {
		payload["hidden_context"] = hc
	}
	return marshalPrompt(payload)
}

func buildSummaryUserPrompt(userQuery, rewrittenQuery, finalStatus, reasonCode string, task *ParseResult, validate *SQLValidateResult, retryCount int, fieldHints map[string]string) (string, error) {
	payload := map[string]any{
		"user_query":                userQuery,
		"rewritten_query":           rewrittenQuery,
		"final_status":              finalStatus,
		"reason_code":               reasonCode,
		"task":                      task,
		"sql_validate_result":       validate,
		"hidden_context_retry_count": retryCount,
		"field_display_hints":       fieldHints,
	}
	return marshalPrompt(payload)
}

func marshalPrompt(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("graph: marshal prompt: %w", err)
	}
	return string(data), nil
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
