package graph

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaokao/eduquery/internal/db"
	"github.com/zhaokao/eduquery/internal/llm"
	"github.com/zhaokao/eduquery/internal/store"
)

func TestRun_RecoversFromOneGenerationFailureViaHiddenContext(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{
		`{"intent":"business_query","is_followup":false,"confidence":0.95,"merged_query":"22级学生","rewritten_query":"22级学生"}`,
		`{"entities":[],"dimensions":["student.real_name"],"metrics":[],"filters":[],"time_range":{"start":"","end":""},"operation":"detail","confidence":0.9}`,
		`{"sql":"WITH base AS (SELECT student.nonexistent_field FROM student) SELECT * FROM base","entity_mappings":[]}`,
		`{"sql":"WITH base AS (SELECT student.real_name FROM student) SELECT * FROM base","entity_mappings":[]}`,
		`{"summary":"共找到 1 名学生。"}`,
	}}
	exec := &fakeExecutor{Result: db.Result{
		Columns: []string{"real_name"},
		Rows:    []map[string]any{{"real_name": "张三"}},
	}}
	deps := &Deps{LLM: fake, KB: testKB(), Executor: exec, Store: store.NewFakeStore(), Log: slog.Default()}
	state := &State{Message: "22级有哪些学生", SessionID: "s1", Threshold: 0.5}

	var events []StepEvent
	err := Run(context.Background(), deps, state, func(e StepEvent) { events = append(events, e) })
	require.NoError(t, err)

	require.Equal(t, 2, state.SQLGenerationCount)
	require.Equal(t, 1, state.HiddenContextRetryCount)
	require.NotNil(t, state.ResultReturnResult)
	require.Equal(t, "success", state.ResultReturnResult.FinalStatus)
	require.NotEmpty(t, events)
}

func TestRun_ExhaustsRetryBudgetAndReturnsFailed(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{
		`{"intent":"business_query","is_followup":false,"confidence":0.95,"merged_query":"q","rewritten_query":"q"}`,
		`{"entities":[],"dimensions":[],"metrics":[],"filters":[],"time_range":{"start":"","end":""},"operation":"detail","confidence":0.9}`,
		`{"sql":"WITH base AS (SELECT student.nonexistent_field FROM student) SELECT * FROM base","entity_mappings":[]}`,
	}}
	deps := &Deps{LLM: fake, KB: testKB(), Executor: &fakeExecutor{}, Store: store.NewFakeStore(), Log: slog.Default()}
	state := &State{Message: "q", SessionID: "s1", Threshold: 0.5}

	err := Run(context.Background(), deps, state, nil)
	require.NoError(t, err)
	require.Equal(t, MaxRetry, state.HiddenContextRetryCount)
	require.NotNil(t, state.ResultReturnResult)
	require.Equal(t, "failed", state.ResultReturnResult.FinalStatus)
}

func TestRun_ChatShortCircuitsBeforeTaskParse(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{
		`{"intent":"chat","is_followup":false,"confidence":0.9,"merged_query":"你好","rewritten_query":"你好"}`,
		"您好！",
	}}
	deps := &Deps{LLM: fake, KB: testKB(), Store: store.NewFakeStore(), Log: slog.Default()}
	state := &State{Message: "你好", SessionID: "s1", Threshold: 0.5}

	err := Run(context.Background(), deps, state, nil)
	require.NoError(t, err)
	require.Nil(t, state.ParseResult)
	require.Equal(t, "success", state.ResultReturnResult.FinalStatus)
	require.Equal(t, "intent_is_chat", state.ResultReturnResult.ReasonCode)
}
