package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaokao/eduquery/internal/db"
)

func TestRunSQLValidate_RejectsWriteStatement(t *testing.T) {
	deps := &Deps{Executor: &fakeExecutor{}}
	state := &State{SQLResult: &SQLResult{SQL: "WITH x AS (DELETE FROM student) SELECT * FROM x"}}

	err := runSQLValidate(context.Background(), deps, state)
	require.NoError(t, err)
	require.False(t, state.SQLValidateResult.IsValid)
	require.Equal(t, "sql_validate_readonly_violation", state.SQLValidateResult.Error)
}

func TestRunSQLValidate_DetectsEmptyResult(t *testing.T) {
	exec := &fakeExecutor{Result: db.Result{Columns: []string{"real_name"}}}
	deps := &Deps{Executor: exec}
	state := &State{SQLResult: &SQLResult{SQL: "WITH x AS (SELECT student.real_name FROM student) SELECT * FROM x"}}

	err := runSQLValidate(context.Background(), deps, state)
	require.NoError(t, err)
	require.True(t, state.SQLValidateResult.IsValid)
	require.True(t, state.SQLValidateResult.EmptyResult)
}

func TestRunSQLValidate_DetectsZeroMetricResult(t *testing.T) {
	exec := &fakeExecutor{Result: db.Result{
		Columns: []string{"total_count"},
		Rows:    []map[string]any{{"total_count": int64(0)}},
	}}
	deps := &Deps{Executor: exec}
	state := &State{SQLResult: &SQLResult{SQL: "WITH x AS (SELECT COUNT(*) AS total_count FROM student) SELECT * FROM x"}}

	err := runSQLValidate(context.Background(), deps, state)
	require.NoError(t, err)
	require.True(t, state.SQLValidateResult.IsValid)
	require.True(t, state.SQLValidateResult.ZeroMetricResult)
}

func TestRunSQLValidate_CapturesExecutionError(t *testing.T) {
	deps := &Deps{Executor: &fakeExecutor{Err: errBoom}}
	state := &State{SQLResult: &SQLResult{SQL: "WITH x AS (SELECT student.real_name FROM student) SELECT * FROM x"}}

	err := runSQLValidate(context.Background(), deps, state)
	require.NoError(t, err)
	require.False(t, state.SQLValidateResult.IsValid)
	require.Equal(t, errBoom.Error(), state.SQLValidateResult.Error)
}

func TestRunSQLValidate_SuccessWithRows(t *testing.T) {
	exec := &fakeExecutor{Result: db.Result{
		Columns: []string{"real_name"},
		Rows:    []map[string]any{{"real_name": "张三"}},
	}}
	deps := &Deps{Executor: exec}
	state := &State{SQLResult: &SQLResult{SQL: "WITH x AS (SELECT student.real_name FROM student) SELECT * FROM x"}}

	err := runSQLValidate(context.Background(), deps, state)
	require.NoError(t, err)
	require.True(t, state.SQLValidateResult.IsValid)
	require.False(t, state.SQLValidateResult.EmptyResult)
	require.False(t, state.SQLValidateResult.ZeroMetricResult)
	require.Equal(t, 1, state.SQLValidateResult.Rows)
}
