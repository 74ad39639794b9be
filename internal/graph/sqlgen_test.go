package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaokao/eduquery/internal/llm"
)

func baseParseResult() *ParseResult {
	return &ParseResult{
		Intent:     IntentBusinessQuery,
		Entities:   []Entity{{Type: "grade", Value: "22级"}},
		Dimensions: []string{"student.real_name"},
		Operation:  OperationDetail,
		Confidence: 0.9,
	}
}

func TestRunSQLGeneration_SuccessWithCoveredEntities(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{`{
		"sql": "WITH base AS (SELECT student.real_name, student.grade FROM student WHERE student.grade = '22级') SELECT * FROM base",
		"entity_mappings": [{"type":"grade","value":"22级","field":"student.grade","reason":"direct match"}]
	}`}}
	deps := &Deps{LLM: fake, KB: testKB()}
	state := &State{IntentResult: &IntentResult{RewrittenQuery: "22级学生"}, ParseResult: baseParseResult()}

	err := runSQLGeneration(context.Background(), deps, state)
	require.NoError(t, err)
	require.NotNil(t, state.SQLResult)
	require.False(t, state.SQLResult.GenerationFailed)
	require.Contains(t, state.SQLResult.SQL, "WITH base AS")
	require.Contains(t, state.SQLResult.SQLFields, "student.real_name")
}

func TestRunSQLGeneration_AutoRepairsFieldUsingHiddenContextCandidates(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{`{
		"sql": "WITH base AS (SELECT student.real_name, student.grade_level FROM student) SELECT * FROM base",
		"entity_mappings": [{"type":"grade","value":"22级","field":"student.grade","reason":"direct match"}]
	}`}}
	deps := &Deps{LLM: fake, KB: testKB()}
	hc := &HiddenContextResult{
		FieldCandidates: []FieldCandidate{
			{Missing: "student.grade_level", Candidates: []string{"student.grade"}},
		},
	}
	state := &State{
		IntentResult:        &IntentResult{RewrittenQuery: "22级学生"},
		ParseResult:         baseParseResult(),
		HiddenContextResult: hc,
	}

	err := runSQLGeneration(context.Background(), deps, state)
	require.NoError(t, err)
	require.False(t, state.SQLResult.GenerationFailed)
	require.NotContains(t, state.SQLResult.SQL, "grade_level")
	require.Contains(t, state.SQLResult.SQL, "student.grade")
	require.Len(t, state.SQLResult.AppliedFieldReplacements, 1)
	require.Equal(t, "student.grade_level", state.SQLResult.AppliedFieldReplacements[0].From)
}

func TestRunSQLGeneration_FailureInstallsSyntheticValidateResult(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{`{
		"sql": "WITH base AS (SELECT student.nonexistent_field FROM student) SELECT * FROM base",
		"entity_mappings": []
	}`}}
	deps := &Deps{LLM: fake, KB: testKB()}
	state := &State{IntentResult: &IntentResult{RewrittenQuery: "q"}, ParseResult: baseParseResult()}

	err := runSQLGeneration(context.Background(), deps, state)
	require.NoError(t, err) // sql_generation never returns a Go error
	require.True(t, state.SQLResult.GenerationFailed)
	require.NotNil(t, state.SQLValidateResult)
	require.False(t, state.SQLValidateResult.IsValid)
	require.False(t, state.SQLValidateResult.EmptyResult)
	require.False(t, state.SQLValidateResult.ZeroMetricResult)
}

func TestRunSQLGeneration_RejectsNonCTEForm(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{`{"sql": "SELECT student.real_name FROM student", "entity_mappings": []}`}}
	deps := &Deps{LLM: fake, KB: testKB()}
	state := &State{IntentResult: &IntentResult{RewrittenQuery: "q"}, ParseResult: baseParseResult()}

	err := runSQLGeneration(context.Background(), deps, state)
	require.NoError(t, err)
	require.True(t, state.SQLResult.GenerationFailed)
	require.Contains(t, state.SQLResult.GenerationError, "sql_generation_not_cte")
}
