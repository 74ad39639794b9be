package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zhaokao/eduquery/internal/store"
)

// snapshotInput captures the state a node is about to act on, for the
// workflow_log audit trail (SPEC_FULL §4 "audit fields").
func snapshotInput(node string, state *State) string {
	var v any
	switch node {
	case nodeIntentRecognition:
		v = map[string]any{"message": state.Message, "history_user_messages": state.HistoryUserMessages}
	case nodeTaskParse:
		v = map[string]any{"query": state.RewrittenOrMerged()}
	case nodeSQLGeneration:
		v = map[string]any{"task": state.ParseResult, "hidden_context": state.HiddenContextResult}
	case nodeSQLValidate:
		if state.SQLResult != nil {
			v = map[string]any{"sql": state.SQLResult.SQL}
		}
	case nodeHiddenContext:
		v = map[string]any{"validate": state.SQLValidateResult}
	case nodeResultReturn:
		v = map[string]any{"validate": state.SQLValidateResult, "task": state.ParseResult}
	}
	return marshalOrEmpty(v)
}

// snapshotOutput captures what the node produced.
func snapshotOutput(node string, state *State) string {
	var v any
	switch node {
	case nodeIntentRecognition:
		v = state.IntentResult
	case nodeTaskParse:
		v = state.ParseResult
	case nodeSQLGeneration:
		v = state.SQLResult
	case nodeSQLValidate:
		v = state.SQLValidateResult
	case nodeHiddenContext:
		v = state.HiddenContextResult
	case nodeResultReturn:
		v = state.ResultReturnResult
	}
	return marshalOrEmpty(v)
}

func marshalOrEmpty(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// riskLevelFor flags anything that failed, and every run of the steps
// that build or execute SQL (sql_generation, sql_validate, hidden_context),
// as medium risk; the other steps are low (SPEC_FULL §4).
func riskLevelFor(node string, state *State, err error) string {
	if err != nil {
		return "medium"
	}
	switch node {
	case nodeSQLGeneration, nodeSQLValidate, nodeHiddenContext:
		return "medium"
	}
	return "low"
}

// writeNodeIOLog writes the per-invocation local I/O log artifact (spec
// §3 "Persisted entities", §6 "Persisted file layout"). Failures to
// write are logged but never fail the node: this is diagnostic
// best-effort output, not part of the transactional persist path.
func writeNodeIOLog(deps *Deps, state *State, node, inputJSON string, nodeErr error) {
	if deps.NodeIOLogDir == "" {
		return
	}
	status := "success"
	if nodeErr != nil {
		status = "failed"
	}
	dir := filepath.Join(deps.NodeIOLogDir, state.SessionID, node)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		if deps.Log != nil {
			deps.Log.Error("graph: mkdir node io log dir", "dir", dir, "error", err)
		}
		return
	}

	record := map[string]any{
		"input":  json.RawMessage(inputJSON),
		"output": json.RawMessage(snapshotOutput(node, state)),
		"status": status,
	}
	if nodeErr != nil {
		record["error"] = nodeErr.Error()
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return
	}

	now := time.Now().UTC()
	name := fmt.Sprintf("%s-%06d-%s.json", now.Format("20060102-15-04-05"), now.Nanosecond()/1000, status)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil && deps.Log != nil {
		deps.Log.Error("graph: write node io log", "path", path, "error", err)
	}
}

func appendWorkflowLog(state *State, node string, inputJSON string, err error) {
	entry := store.WorkflowLogEntry{
		SessionID:  state.SessionID,
		StepName:   node,
		InputJSON:  inputJSON,
		OutputJSON: snapshotOutput(node, state),
		Status:     "success",
		RiskLevel:  riskLevelFor(node, state, err),
	}
	if err != nil {
		entry.Status = "failed"
		entry.ErrorMessage = err.Error()
	}
	state.WorkflowLogs = append(state.WorkflowLogs, entry)
}
