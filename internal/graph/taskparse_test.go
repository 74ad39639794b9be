package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaokao/eduquery/internal/llm"
)

func TestRunTaskParse_DropsUnwhitelistedAndDisallowedFilters(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{`{
		"entities": [{"type":"grade","value":"22级"}],
		"dimensions": ["student.real_name"],
		"metrics": [],
		"filters": [
			{"field":"student.grade","op":"=","value":"22级"},
			{"field":"student.secret_field","op":"=","value":"x"},
			{"field":"student.real_name","op":"frobnicate","value":"x"}
		],
		"time_range": {"start":"","end":""},
		"operation": "detail",
		"confidence": 0.8
	}`}}
	deps := &Deps{LLM: fake, KB: testKB()}
	state := &State{IntentResult: &IntentResult{RewrittenQuery: "22级有哪些学生"}}

	err := runTaskParse(context.Background(), deps, state)
	require.NoError(t, err)
	require.NotNil(t, state.ParseResult)
	require.Len(t, state.ParseResult.Filters, 1)
	require.Equal(t, "student.grade", state.ParseResult.Filters[0].Field)
	require.Equal(t, IntentBusinessQuery, state.ParseResult.Intent)
}

func TestRunTaskParse_MissingConfidenceIsFatal(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{`{"entities":[],"operation":"detail"}`}}
	deps := &Deps{LLM: fake, KB: testKB()}
	state := &State{IntentResult: &IntentResult{RewrittenQuery: "q"}}

	err := runTaskParse(context.Background(), deps, state)
	require.Error(t, err)
	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, "task_parse_missing_confidence", nerr.Kind)
}

func TestRunTaskParse_CoercesUnknownOperationToDetail(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{`{"entities":[],"operation":"frobnicate","confidence":0.5}`}}
	deps := &Deps{LLM: fake, KB: testKB()}
	state := &State{IntentResult: &IntentResult{RewrittenQuery: "q"}}

	err := runTaskParse(context.Background(), deps, state)
	require.NoError(t, err)
	require.Equal(t, OperationDetail, state.ParseResult.Operation)
}
