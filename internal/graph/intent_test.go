package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaokao/eduquery/internal/llm"
)

func TestRunIntentRecognition_BusinessQueryAboveThreshold(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{
		`{"intent":"business_query","is_followup":false,"confidence":0.92,"merged_query":"list students in 22级","rewritten_query":"list students in grade 22"}`,
	}}
	deps := &Deps{LLM: fake, KB: testKB()}
	state := &State{Message: "22级有哪些学生", Threshold: 0.5}

	err := runIntentRecognition(context.Background(), deps, state)
	require.NoError(t, err)
	require.NotNil(t, state.IntentResult)
	require.Equal(t, IntentBusinessQuery, state.IntentResult.Intent)
	require.Equal(t, 0.92, state.IntentResult.Confidence)
}

func TestRunIntentRecognition_CoercesLowConfidenceToChat(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{
		`{"intent":"business_query","is_followup":false,"confidence":0.2,"merged_query":"q","rewritten_query":"q"}`,
	}}
	deps := &Deps{LLM: fake, KB: testKB()}
	state := &State{Message: "随便问问", Threshold: 0.5}

	err := runIntentRecognition(context.Background(), deps, state)
	require.NoError(t, err)
	require.Equal(t, IntentChat, state.IntentResult.Intent)
}

func TestRunIntentRecognition_MissingIntentFieldIsFatal(t *testing.T) {
	fake := &llm.FakeClient{Responses: []string{`{"confidence":0.9,"merged_query":"q","rewritten_query":"q"}`}}
	deps := &Deps{LLM: fake, KB: testKB()}
	state := &State{Message: "hi", Threshold: 0.5}

	err := runIntentRecognition(context.Background(), deps, state)
	require.Error(t, err)
	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, "intent_missing_field", nerr.Kind)
}
