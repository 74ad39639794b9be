package graph

import (
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhaokao/eduquery/internal/store"
)

const (
	chatTimeout    = 15 * time.Second
	summaryTimeout = 12 * time.Second
	inlineRowLimit = 10
)

// runResultReturn implements spec §4.7: it handles both the chat
// short-circuit and the business_query terminal path, then persists the
// chat turn and its audit trail atomically.
func runResultReturn(ctx context.Context, deps *Deps, state *State) error {
	var result *ResultReturnResult
	if state.IntentResult != nil && state.IntentResult.Intent == IntentChat {
		result = resultForChat(ctx, deps, state)
	} else {
		result = resultForBusinessQuery(ctx, deps, state)
	}
	state.ResultReturnResult = result

	if err := persistTurn(ctx, deps, state, result); err != nil {
		deps.Log.Error("result_return: persist failed", "session_id", state.SessionID, "error", err)
		return newNodeError("result_return_persist_failed", "%v", err)
	}
	return nil
}

func resultForChat(ctx context.Context, deps *Deps, state *State) *ResultReturnResult {
	reply := fallbackChatReply()
	if deps.LLM != nil {
		if userPrompt, err := buildChatUserPrompt(state.Message, state.HistoryUserMessages); err == nil {
			if text, err := deps.LLM.Complete(ctx, chatSystemPrompt, userPrompt, 0.7, chatTimeout); err == nil && strings.TrimSpace(text) != "" {
				reply = strings.TrimSpace(text)
			}
		}
	}
	return &ResultReturnResult{
		FinalStatus:    "success",
		ReasonCode:     "intent_is_chat",
		Summary:        "",
		AssistantReply: reply,
		Skipped:        true,
		Task:           nil,
	}
}

func resultForBusinessQuery(ctx context.Context, deps *Deps, state *State) *ResultReturnResult {
	finalStatus, reasonCode := computeFinalStatusAndReason(state)

	var rows []map[string]any
	if state.SQLValidateResult != nil {
		rows = state.SQLValidateResult.Result
	}
	var operation Operation
	if state.ParseResult != nil {
		operation = state.ParseResult.Operation
		rows = dedupeStudents(operation, rows)
	}

	summary := summarizeResult(ctx, deps, state, finalStatus, reasonCode)

	result := &ResultReturnResult{
		FinalStatus: finalStatus,
		ReasonCode:  reasonCode,
		Summary:     summary,
		Rows:        rows,
		Skipped:     false,
		Task:        state.ParseResult,
	}
	result.AssistantReply, result.DownloadName = buildAssistantReply(deps, state, summary, rows)
	return result
}

// computeFinalStatusAndReason implements the truth table of spec §4.7
// step 1, verbatim: parse/validate absence is distinguished from an
// executed-but-unsatisfying validate result before falling through to
// the generic invalid case.
func computeFinalStatusAndReason(state *State) (string, string) {
	if state.ParseResult == nil {
		return "failed", "task_parse_missing"
	}
	v := state.SQLValidateResult
	if v == nil {
		return "failed", "sql_validate_missing"
	}
	switch {
	case v.IsValid && !v.EmptyResult && !v.ZeroMetricResult:
		return "success", ""
	case v.EmptyResult:
		return "partial_success", "empty_result_after_retry"
	case v.ZeroMetricResult:
		return "partial_success", "zero_metric_after_retry"
	default:
		return "failed", "sql_invalid_after_retry"
	}
}

// dedupeStudents implements the de-duplication guard of spec §4.7 step 2:
// collapse rows sharing (student_no, real_name) into one, merging any
// distinct "reason" values with the full-width semicolon "；". It never
// fires for queries that carry a detail-grain indicator column, since
// collapsing those would silently discard real per-record information.
func dedupeStudents(op Operation, rows []map[string]any) []map[string]any {
	if op != OperationDetail && op != OperationRanking {
		return rows
	}
	if len(rows) == 0 {
		return rows
	}
	if _, ok := rows[0]["student_no"]; !ok {
		return rows
	}
	for col := range rows[0] {
		if hasDetailGrainIndicator(col) {
			return rows
		}
	}

	type key struct{ no, name string }
	var order []key
	groups := make(map[key][]map[string]any)
	for _, r := range rows {
		k := key{fmt.Sprint(r["student_no"]), fmt.Sprint(r["real_name"])}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	out := make([]map[string]any, 0, len(order))
	for _, k := range order {
		grp := groups[k]
		if len(grp) == 1 {
			out = append(out, grp[0])
			continue
		}
		merged := make(map[string]any, len(grp[0]))
		for col, v := range grp[0] {
			merged[col] = v
		}
		if _, hasReason := merged["reason"]; hasReason {
			seen := make(map[string]struct{})
			var reasons []string
			for _, g := range grp {
				rs := strings.TrimSpace(fmt.Sprint(g["reason"]))
				if rs == "" {
					continue
				}
				if _, dup := seen[rs]; dup {
					continue
				}
				seen[rs] = struct{}{}
				reasons = append(reasons, rs)
			}
			merged["reason"] = strings.Join(reasons, "；")
		}
		out = append(out, merged)
	}
	return out
}

// detailGrainIndicators is the literal per-record column set of spec §4.7
// step 2: any row carrying one of these is at detail grain (e.g. one row
// per student per course), not one row per student, and must not be
// collapsed.
var detailGrainIndicators = map[string]struct{}{
	"course_code":     {},
	"course_name":     {},
	"course_id":       {},
	"course_class_id": {},
	"score_value":     {},
	"score_level":     {},
	"attend_date":     {},
	"term":            {},
	"enroll_time":     {},
}

func hasDetailGrainIndicator(col string) bool {
	_, ok := detailGrainIndicators[strings.ToLower(col)]
	return ok
}

// buildFieldDisplayHints implements spec §4.7 step 3: exact table.field
// match first, then an unambiguous column-suffix match, then a resolvable
// alias; columns left unmatched simply have no hint.
func buildFieldDisplayHints(deps *Deps, columns []string) map[string]string {
	hints := make(map[string]string, len(columns))
	for _, col := range columns {
		if deps.KB.IsWhitelisted(col) {
			if d := deps.KB.Description(col); d != "" {
				hints[col] = d
				continue
			}
		}
		if matches := deps.KB.CandidatesWithSuffix(col); len(matches) == 1 {
			if d := deps.KB.Description(matches[0]); d != "" {
				hints[col] = d
				continue
			}
		}
		if resolved := deps.KB.ResolveAlias(col); len(resolved) == 1 {
			if d := deps.KB.Description(resolved[0]); d != "" {
				hints[col] = d
			}
		}
	}
	return hints
}

func summarizeResult(ctx context.Context, deps *Deps, state *State, finalStatus, reasonCode string) string {
	columns := resultColumns(state)
	fieldHints := buildFieldDisplayHints(deps, columns)

	if deps.LLM != nil {
		userPrompt, err := buildSummaryUserPrompt(state.Message, state.RewrittenOrMerged(), finalStatus, reasonCode, state.ParseResult, state.SQLValidateResult, state.HiddenContextRetryCount, fieldHints)
		if err == nil {
			var parsed struct {
				Summary string `json:"summary"`
			}
			if text, err := deps.LLM.Complete(ctx, summarySystemPrompt, userPrompt, 0.1, summaryTimeout); err == nil {
				if err := extractJSONObject(text, &parsed); err == nil && strings.TrimSpace(parsed.Summary) != "" {
					return strings.TrimSpace(parsed.Summary)
				}
			}
		}
	}
	return fallbackSummary(reasonCode)
}

// resultColumns returns the result set's column names in insertion order
// (spec §4.7 step 5: "header = union of keys in insertion order"),
// preferring the driver-reported column order carried on
// SQLValidateResult.Columns and falling back to first-seen-key order
// across rows when that is unavailable (e.g. a fake executor in tests).
// In that fallback the keys of each row are visited in Go map iteration
// order, so the column order is not stable between calls.
func resultColumns(state *State) []string {
	if state.SQLValidateResult == nil || len(state.SQLValidateResult.Result) == 0 {
		return nil
	}
	if cols := state.SQLValidateResult.Columns; len(cols) > 0 {
		return cols
	}

	seen := make(map[string]struct{})
	var cols []string
	for _, row := range state.SQLValidateResult.Result {
		for c := range row {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			cols = append(cols, c)
		}
	}
	return cols
}

func fallbackSummary(reasonCode string) string {
	switch reasonCode {
	case "":
		return "已完成查询。"
	case "empty_result_after_retry":
		return "未查询到符合条件的数据。"
	case "zero_metric_result_after_retry", "zero_metric_after_retry":
		return "统计结果为 0。"
	case "task_parse_missing":
		return "抱歉，未能理解这个问题，请换一种问法。"
	case "sql_validate_missing", "sql_invalid_after_retry":
		return "查询执行出错，请稍后重试或换一种问法。"
	default:
		return "查询执行出错，请稍后重试或换一种问法。"
	}
}

func fallbackChatReply() string {
	return "您好，请问有什么可以帮您？我可以回答关于学生、班级、成绩和考勤的查询。"
}

// buildAssistantReply assembles the user-facing reply: an inline numbered
// table for small result sets, or a CSV export link for larger ones
// (spec §4.7 step 5).
func buildAssistantReply(deps *Deps, state *State, summary string, rows []map[string]any) (string, string) {
	if len(rows) == 0 {
		return summary, ""
	}
	if len(rows) <= inlineRowLimit {
		columns := resultColumns(state)
		hints := buildFieldDisplayHints(deps, columns)
		var sb strings.Builder
		sb.WriteString(summary)
		sb.WriteString("\n\n")
		for i, row := range rows {
			sb.WriteString(fmt.Sprintf("%d. ", i+1))
			parts := make([]string, 0, len(columns))
			for _, c := range columns {
				label := c
				if h, ok := hints[c]; ok {
					label = h
				}
				parts = append(parts, fmt.Sprintf("%s: %v", label, row[c]))
			}
			sb.WriteString(strings.Join(parts, "，"))
			sb.WriteString("\n")
		}
		return sb.String(), ""
	}

	name, err := writeCSVExport(deps, state, rows)
	if err != nil {
		deps.Log.Error("result_return: csv export failed", "error", err)
		return summary, ""
	}
	reply := fmt.Sprintf("%s\n\n结果共 %d 行，已导出为文件：/api/chat/downloads/%s", summary, len(rows), name)
	return reply, name
}

// writeCSVExport writes a UTF-8 BOM CSV file under deps.ExportDir, named
// admin_<admin>_session_<session>_<ts>_<rand>.csv (spec §4.7 step 5).
func writeCSVExport(deps *Deps, state *State, rows []map[string]any) (string, error) {
	if deps.ExportDir == "" {
		return "", fmt.Errorf("result_return: export directory not configured")
	}
	if err := os.MkdirAll(deps.ExportDir, 0o755); err != nil {
		return "", fmt.Errorf("result_return: mkdir export dir: %w", err)
	}

	randSuffix, err := randomHex(4)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("admin_%d_session_%s_%d_%s.csv", state.AdminID, sanitizeForFilename(state.SessionID), time.Now().UTC().Unix(), randSuffix)
	path := filepath.Join(deps.ExportDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("result_return: create csv: %w", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return "", fmt.Errorf("result_return: write bom: %w", err)
	}

	w := csv.NewWriter(f)
	columns := resultColumns(state)
	if err := w.Write(columns); err != nil {
		return "", fmt.Errorf("result_return: write header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, c := range columns {
			record[i] = fmt.Sprintf("%v", row[c])
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("result_return: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("result_return: flush csv: %w", err)
	}
	return name, nil
}

func sanitizeForFilename(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("result_return: random suffix: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// persistTurn commits the chat turn and its workflow_log audit trail in
// one transaction (spec §4.7 step 6, §5 "Commit discipline").
func persistTurn(ctx context.Context, deps *Deps, state *State, result *ResultReturnResult) error {
	if deps.Store == nil {
		return nil
	}
	return deps.Store.Persist(ctx, store.PersistRequest{
		AdminID:        state.AdminID,
		SessionID:      state.SessionID,
		UserMessage:    state.Message,
		AssistantReply: result.AssistantReply,
		ModelName:      state.ModelName,
		WorkflowLogs:   state.WorkflowLogs,
	})
}
