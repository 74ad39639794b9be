package graph

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaokao/eduquery/internal/llm"
	"github.com/zhaokao/eduquery/internal/store"
)

func TestRunResultReturn_ChatPath(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{"您好，有什么可以帮您的吗？"}}
	deps := &Deps{LLM: fake, KB: testKB(), Store: store.NewFakeStore(), Log: slog.Default()}
	state := &State{Message: "你好", SessionID: "s1", IntentResult: &IntentResult{Intent: IntentChat}}

	err := runResultReturn(context.Background(), deps, state)
	require.NoError(t, err)
	require.Equal(t, "success", state.ResultReturnResult.FinalStatus)
	require.Equal(t, "intent_is_chat", state.ResultReturnResult.ReasonCode)
	require.True(t, state.ResultReturnResult.Skipped)
	require.Nil(t, state.ResultReturnResult.Task)
	require.NotEmpty(t, state.ResultReturnResult.AssistantReply)
}

func TestRunResultReturn_SuccessInlineReply(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{`{"summary":"共找到 1 名学生。"}`}}
	deps := &Deps{LLM: fake, KB: testKB(), Store: store.NewFakeStore(), Log: slog.Default()}
	state := &State{
		Message:     "22级有哪些学生",
		SessionID:   "s1",
		IntentResult: &IntentResult{Intent: IntentBusinessQuery},
		ParseResult: &ParseResult{Operation: OperationDetail},
		SQLValidateResult: &SQLValidateResult{
			IsValid: true,
			Result:  []map[string]any{{"real_name": "张三", "student_no": "1001"}},
		},
	}

	err := runResultReturn(context.Background(), deps, state)
	require.NoError(t, err)
	require.Equal(t, "success", state.ResultReturnResult.FinalStatus)
	require.Empty(t, state.ResultReturnResult.ReasonCode)
	require.Contains(t, state.ResultReturnResult.AssistantReply, "姓名: 张三")
	require.Contains(t, state.ResultReturnResult.AssistantReply, "学号: 1001")
	require.Empty(t, state.ResultReturnResult.DownloadName)
}

func TestRunResultReturn_CSVExportForLargeResult(t *testing.T) {
	dir := t.TempDir()
	rows := make([]map[string]any, 0, 20)
	for i := 0; i < 20; i++ {
		rows = append(rows, map[string]any{"real_name": "学生", "student_no": i})
	}
	deps := &Deps{KB: testKB(), Store: store.NewFakeStore(), Log: slog.Default(), ExportDir: dir}
	state := &State{
		Message:      "全部学生",
		SessionID:    "s1",
		AdminID:      7,
		IntentResult: &IntentResult{Intent: IntentBusinessQuery},
		ParseResult:  &ParseResult{Operation: OperationDetail},
		SQLValidateResult: &SQLValidateResult{
			IsValid: true,
			Result:  rows,
		},
	}

	err := runResultReturn(context.Background(), deps, state)
	require.NoError(t, err)
	require.NotEmpty(t, state.ResultReturnResult.DownloadName)
	require.Contains(t, state.ResultReturnResult.AssistantReply, "/api/chat/downloads/")

	path := filepath.Join(dir, state.ResultReturnResult.DownloadName)
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	require.True(t, strings.HasPrefix(string(data), "\xEF\xBB\xBF"))
	require.True(t, strings.HasPrefix(state.ResultReturnResult.DownloadName, "admin_7_session_s1_"))
}

func TestRunResultReturn_DedupesStudentsMergingReasons(t *testing.T) {
	deps := &Deps{KB: testKB(), Store: store.NewFakeStore(), Log: slog.Default()}
	state := &State{
		Message:      "哪些学生被扣分",
		SessionID:    "s1",
		IntentResult: &IntentResult{Intent: IntentBusinessQuery},
		ParseResult:  &ParseResult{Operation: OperationRanking},
		SQLValidateResult: &SQLValidateResult{
			IsValid: true,
			Result: []map[string]any{
				{"student_no": "1001", "real_name": "张三", "reason": "迟到"},
				{"student_no": "1001", "real_name": "张三", "reason": "早退"},
				{"student_no": "1002", "real_name": "李四", "reason": "旷课"},
			},
		},
	}

	err := runResultReturn(context.Background(), deps, state)
	require.NoError(t, err)
	require.Len(t, state.ResultReturnResult.Rows, 2)
	require.Equal(t, "迟到；早退", state.ResultReturnResult.Rows[0]["reason"])
}

func TestRunResultReturn_PersistFailureIsFatal(t *testing.T) {
	fs := store.NewFakeStore()
	fs.FailNextPersist = true
	deps := &Deps{LLM: &llm.FakeClient{}, KB: testKB(), Store: fs, Log: slog.Default()}
	state := &State{Message: "hi", SessionID: "s1", IntentResult: &IntentResult{Intent: IntentChat}}

	err := runResultReturn(context.Background(), deps, state)
	require.Error(t, err)
	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, "result_return_persist_failed", nerr.Kind)
}
