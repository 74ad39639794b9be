package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaokao/eduquery/internal/db"
)

func TestRunHiddenContext_ClassifiesSQLErrorAndGathersCandidates(t *testing.T) {
	exec := &fakeExecutor{Result: db.Result{
		Columns: []string{"value"},
		Rows:    []map[string]any{{"value": "22级"}, {"value": "23级"}},
	}}
	deps := &Deps{KB: testKB(), Executor: exec}
	state := &State{
		SQLValidateResult: &SQLValidateResult{
			IsValid: false,
			Error:   "Unknown column 'student.grade_level' in 'field list'",
		},
	}

	err := runHiddenContext(context.Background(), deps, state)
	require.NoError(t, err)
	require.NotNil(t, state.HiddenContextResult)
	require.Equal(t, "sql_error", state.HiddenContextResult.RetryReason)
	require.Equal(t, "unknown_column", state.HiddenContextResult.ErrorType)
	require.Len(t, state.HiddenContextResult.FieldCandidates, 1)
	require.Equal(t, "student.grade_level", state.HiddenContextResult.FieldCandidates[0].Missing)
	require.Contains(t, state.HiddenContextResult.FieldCandidates[0].Candidates, "student.grade")
	require.NotEmpty(t, state.HiddenContextResult.ProbeSamples)
	require.Equal(t, 1, state.HiddenContextRetryCount)
	require.Equal(t, 1, state.HiddenContextResult.RetryCount)
}

func TestRunHiddenContext_EmptyResultClassification(t *testing.T) {
	deps := &Deps{KB: testKB(), Executor: &fakeExecutor{}}
	state := &State{SQLValidateResult: &SQLValidateResult{IsValid: true, EmptyResult: true}}

	err := runHiddenContext(context.Background(), deps, state)
	require.NoError(t, err)
	require.Equal(t, "empty_result", state.HiddenContextResult.RetryReason)
	require.Empty(t, state.HiddenContextResult.FieldCandidates)
}

func TestRunHiddenContext_ExtractsMissingFromGenerationError(t *testing.T) {
	deps := &Deps{KB: testKB(), Executor: &fakeExecutor{}}
	state := &State{
		SQLResult: &SQLResult{
			GenerationFailed: true,
			GenerationError:  "sql_generation_invalid_fields: unwhitelisted fields: student.grade_level, student.nickname",
		},
		SQLValidateResult: &SQLValidateResult{IsValid: false, Error: "sql_generation_invalid_fields"},
	}

	err := runHiddenContext(context.Background(), deps, state)
	require.NoError(t, err)
	require.Len(t, state.HiddenContextResult.FieldCandidates, 2)
	require.Equal(t, "student.grade_level", state.HiddenContextResult.FieldCandidates[0].Missing)
	require.Equal(t, "student.nickname", state.HiddenContextResult.FieldCandidates[1].Missing)
}

func TestMatchValue_ExactNormalizedFuzzyFallback(t *testing.T) {
	exact := matchValue("student.grade", "22级", []string{"22级", "23级"})
	require.Equal(t, MatchExact, exact.MatchStrategy)

	exactCaseInsensitive := matchValue("class.class_name", "A班", []string{"a班"})
	require.Equal(t, MatchExact, exactCaseInsensitive.MatchStrategy)

	normalized := matchValue("student.grade", " 22级 ", []string{"22级"})
	require.Equal(t, MatchNormalized, normalized.MatchStrategy)

	fuzzy := matchValue("student.grade", "22", []string{"22级", "23级"})
	require.Equal(t, MatchFuzzy, fuzzy.MatchStrategy)
	require.Contains(t, fuzzy.Candidates, "22级")

	fallback := matchValue("student.grade", "xyz", []string{"22级", "23级", "24级", "25级", "26级", "27级"})
	require.Equal(t, MatchFallbackProbe, fallback.MatchStrategy)
	require.Len(t, fallback.Candidates, 5)
}
