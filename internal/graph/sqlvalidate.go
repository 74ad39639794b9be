package graph

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/zhaokao/eduquery/internal/db"
	"github.com/zhaokao/eduquery/internal/metrics"
	"github.com/zhaokao/eduquery/internal/sqlsafety"
)

// metricAliasRe matches a column alias, introduced by "AS", that looks
// like an aggregate/count metric (spec §4.5 step 5's keyword list).
var metricAliasRe = regexp.MustCompile(`(?i)\bAS\s+` + "`?" + `(count|sum|avg|total|num|cnt|ren_shu|shu_liang|zong_shu|he_ji|ping_jun|jun_zhi|ratio|rate|percent)\w*` + "`?")

// aggregateCallRe detects an aggregate function call in the executed SQL.
var aggregateCallRe = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max|group_concat)\s*\(`)

// runSQLValidate implements spec §4.5. Execution errors never propagate
// as Go errors; they are captured into the SQLValidateResult instead, so
// this node is only fatal when something upstream is missing entirely.
func runSQLValidate(ctx context.Context, deps *Deps, state *State) error {
	if state.SQLResult == nil {
		return newNodeError("sql_validate_execution_error", "no sql_result to validate")
	}

	sql := strings.TrimSpace(state.SQLResult.SQL)
	if sql == "" {
		state.SQLValidateResult = &SQLValidateResult{
			IsValid: false,
			Error:   "sql_validate_empty_sql",
		}
		return nil
	}

	if reason, ok := sqlsafety.Check(sql); !ok {
		metrics.SQLGateRejections.WithLabelValues("sql_validate").Inc()
		state.SQLValidateResult = &SQLValidateResult{
			IsValid:     false,
			Error:       reason,
			ExecutedSQL: sql,
		}
		return nil
	}

	result, err := deps.Executor.Query(ctx, sql)
	if err != nil {
		state.SQLValidateResult = &SQLValidateResult{
			IsValid:     false,
			Error:       err.Error(),
			ExecutedSQL: sql,
			Rows:        0,
		}
		return nil
	}

	v := &SQLValidateResult{
		IsValid:     true,
		ExecutedSQL: sql,
		Rows:        len(result.Rows),
		Result:      result.Rows,
		Columns:     result.Columns,
	}
	v.EmptyResult = isEmptyResult(sql, result)
	v.ZeroMetricResult = isZeroMetricResult(sql, result)

	state.SQLValidateResult = v
	return nil
}

// isEmptyResult detects zero rows, or a single aggregate row whose every
// column is NULL (spec §4.5 step 4).
func isEmptyResult(sql string, result db.Result) bool {
	if len(result.Rows) == 0 {
		return true
	}
	if len(result.Rows) != 1 || !aggregateCallRe.MatchString(sql) {
		return false
	}
	for _, v := range result.Rows[0] {
		if v != nil {
			return false
		}
	}
	return true
}

// isZeroMetricResult detects a metric alias (introduced by AS) whose
// single row's value is exactly zero (spec §4.5 step 5).
func isZeroMetricResult(sql string, result db.Result) bool {
	if len(result.Rows) != 1 {
		return false
	}
	m := metricAliasRe.FindStringSubmatch(sql)
	if m == nil {
		return false
	}
	row := result.Rows[0]
	for col, v := range row {
		if !strings.EqualFold(col, m[1]) && !strings.HasPrefix(strings.ToLower(col), strings.ToLower(m[1])) {
			continue
		}
		if isZeroValue(v) {
			return true
		}
	}
	return false
}

func isZeroValue(v any) bool {
	switch x := v.(type) {
	case int64:
		return x == 0
	case float64:
		return x == 0
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return err == nil && f == 0
	default:
		return false
	}
}
