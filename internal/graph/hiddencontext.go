package graph

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhaokao/eduquery/internal/metrics"
	"github.com/zhaokao/eduquery/internal/sqlsafety"
)

const (
	maxCandidatesPerMissing = 12
	maxProbesPerMissing     = 6
	maxTotalProbes          = 24
	probeRowLimit           = 20
	probeTimeout            = 8 * time.Second
)

var unknownColumnRe = regexp.MustCompile("(?i)unknown column\\s+['`]([^'`]+)['`]")

// runHiddenContext implements spec §4.6: classify the failure, gather
// whitelisted field candidates for anything that looks missing, probe a
// capped set of them with safe DISTINCT queries, and compute filter-value
// normalization suggestions.
func runHiddenContext(ctx context.Context, deps *Deps, state *State) error {
	v := state.SQLValidateResult
	if v == nil {
		return newNodeError("hidden_context_classification_failed", "no sql_validate_result to classify")
	}

	hc := &HiddenContextResult{
		RetryReason: classifyRetryReason(v),
		ErrorType:   classifyErrorType(v.Error),
		Error:       v.Error,
		FailedSQL:   v.ExecutedSQL,
	}
	if hc.FailedSQL == "" && state.SQLResult != nil {
		hc.FailedSQL = state.SQLResult.SQL
	}

	pool := collectCandidateFieldPool(state, deps)
	missing := extractMissingTokens(v.Error, state.SQLResult)

	var fieldCandidates []FieldCandidate
	probeOrder := make([]string, 0, maxTotalProbes)
	probeSeen := make(map[string]struct{})

	for _, m := range missing {
		cands := gatherFieldCandidates(deps, m, pool)
		if len(cands) > maxCandidatesPerMissing {
			cands = cands[:maxCandidatesPerMissing]
		}
		fieldCandidates = append(fieldCandidates, FieldCandidate{Missing: m, Candidates: cands})

		added := 0
		for _, c := range cands {
			if added >= maxProbesPerMissing || len(probeOrder) >= maxTotalProbes {
				break
			}
			if _, dup := probeSeen[c]; dup {
				continue
			}
			probeSeen[c] = struct{}{}
			probeOrder = append(probeOrder, c)
			added++
		}
		if len(probeOrder) >= maxTotalProbes {
			break
		}
	}

	// Probes are independent read-only DISTINCT queries, so they fan out
	// concurrently (grounded on api/handlers/stake.go's errgroup-bounded
	// parallel query pattern from the teacher pack) while still reporting
	// results in probeOrder (spec §4.6: "preserve insertion order").
	probeSamples := make([]ProbeSample, len(probeOrder))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, field := range probeOrder {
		i, field := i, field
		g.Go(func() error {
			probeSamples[i] = probeField(gctx, deps, field)
			return nil
		})
	}
	_ = g.Wait()

	var valueCandidates []ValueCandidate
	if state.ParseResult != nil {
		for _, f := range state.ParseResult.Filters {
			sample := findProbeSample(probeSamples, f.Field)
			if sample == nil || sample.Error != "" {
				continue
			}
			orig, ok := f.Value.(string)
			if !ok || strings.TrimSpace(orig) == "" {
				continue
			}
			if vc := matchValue(f.Field, orig, sample.Values); vc != nil {
				valueCandidates = append(valueCandidates, *vc)
			}
		}
	}

	hc.FieldCandidates = fieldCandidates
	hc.ProbeSamples = probeSamples
	hc.ValueCandidates = valueCandidates
	hc.RewrittenQuery = state.RewrittenOrMerged()
	hc.Hints = buildHiddenContextHints(hc)
	hc.RetryCount = state.HiddenContextRetryCount + 1

	state.HiddenContextResult = hc
	state.HiddenContextRetryCount++
	return nil
}

// classifyRetryReason implements spec §4.6 step 1.
func classifyRetryReason(v *SQLValidateResult) string {
	switch {
	case !v.IsValid:
		return "sql_error"
	case v.EmptyResult:
		return "empty_result"
	case v.ZeroMetricResult:
		return "zero_metric_result"
	default:
		return "sql_error"
	}
}

// classifyErrorType implements spec §4.6 step 1's error-type taxonomy.
func classifyErrorType(errText string) string {
	if errText == "" {
		return ""
	}
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "unknown column"):
		return "unknown_column"
	case strings.Contains(lower, "unknown table"), strings.Contains(lower, "doesn't exist"):
		return "unknown_table"
	case strings.Contains(lower, "syntax"):
		return "syntax_error"
	case strings.Contains(lower, "not found"), errText == sqlsafety.ErrReadonlyViolation:
		return "object_not_found"
	default:
		return "execution_error"
	}
}

// extractMissingTokens pulls candidate "missing field" tokens out of a
// DB error message ("Unknown column 'x.y' in ...") or, when sql_generation
// itself failed before any query ran, out of its generation_error text.
func extractMissingTokens(errText string, sqlResult *SQLResult) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(tok string) {
		tok = strings.Trim(strings.TrimSpace(tok), "`'\"")
		if tok == "" {
			return
		}
		if fields := strings.Fields(tok); len(fields) > 0 {
			tok = fields[0]
		}
		if _, dup := seen[tok]; dup {
			return
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}

	for _, m := range unknownColumnRe.FindAllStringSubmatch(errText, -1) {
		add(m[1])
	}

	if sqlResult != nil && sqlResult.GenerationFailed {
		if idx := strings.Index(sqlResult.GenerationError, "unwhitelisted fields: "); idx >= 0 {
			rest := sqlResult.GenerationError[idx+len("unwhitelisted fields: "):]
			for _, f := range strings.Split(rest, ",") {
				add(f)
			}
		}
	}
	return out
}

// collectCandidateFieldPool is the fallback candidate set when alias/suffix
// lookups come up empty: every whitelisted field already referenced by this
// request's SQL, dimensions, metrics, or filters.
func collectCandidateFieldPool(state *State, deps *Deps) []string {
	seen := make(map[string]struct{})
	var raw []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		raw = append(raw, s)
	}
	if state.SQLResult != nil {
		for _, f := range state.SQLResult.SQLFields {
			add(f)
		}
	}
	if state.ParseResult != nil {
		for _, d := range state.ParseResult.Dimensions {
			add(d)
		}
		for _, m := range state.ParseResult.Metrics {
			add(m)
		}
		for _, f := range state.ParseResult.Filters {
			add(f.Field)
		}
	}
	var out []string
	for _, f := range raw {
		if deps.KB.IsWhitelisted(f) {
			out = append(out, f)
		}
	}
	return out
}

// gatherFieldCandidates implements spec §4.6 step 4: alias resolution and
// suffix matching first, same-table fields next, and the request's own
// candidate pool as a last resort.
func gatherFieldCandidates(deps *Deps, missing string, pool []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(fields []string) {
		for _, f := range fields {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}

	table, col := "", missing
	if parts := strings.SplitN(missing, ".", 2); len(parts) == 2 {
		table, col = parts[0], parts[1]
	}

	add(deps.KB.ResolveAlias(missing))
	add(deps.KB.ResolveAlias(col))
	add(deps.KB.CandidatesWithSuffix(col))
	if table != "" {
		add(deps.KB.FieldsInTable(table))
	}
	if len(out) == 0 {
		add(pool)
	}
	return out
}

// probeField runs the safe DISTINCT probe query of spec §4.6 step 6.
func probeField(ctx context.Context, deps *Deps, field string) ProbeSample {
	parts := strings.SplitN(field, ".", 2)
	if len(parts) != 2 {
		return ProbeSample{Field: field, Error: "not a table.field reference"}
	}
	table, col := parts[0], parts[1]

	sql := fmt.Sprintf("SELECT DISTINCT %s AS value FROM %s WHERE %s IS NOT NULL", field, table, field)
	if deps.KB.IsWhitelisted(table + ".is_deleted") {
		sql += fmt.Sprintf(" AND %s.is_deleted = 0", table)
	}
	if table != "class" {
		sql += fmt.Sprintf(" LIMIT %d", probeRowLimit)
	}

	if _, ok := sqlsafety.Check(sql); !ok {
		metrics.SQLGateRejections.WithLabelValues("hidden_context_probe").Inc()
		return ProbeSample{Field: field, ProbeSQL: sql, Error: sqlsafety.ErrReadonlyViolation}
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	result, err := deps.Executor.Query(probeCtx, sql)
	if err != nil {
		return ProbeSample{Field: field, ProbeSQL: sql, Error: err.Error()}
	}

	sample := ProbeSample{Field: field, ProbeSQL: sql}
	for _, row := range result.Rows {
		if v, ok := row["value"]; ok && v != nil {
			sample.Values = append(sample.Values, fmt.Sprintf("%v", v))
		}
	}
	return sample
}

func findProbeSample(samples []ProbeSample, field string) *ProbeSample {
	for i := range samples {
		if samples[i].Field == field {
			return &samples[i]
		}
	}
	return nil
}

// matchValue implements spec §4.6 step 7's exact/normalized/fuzzy/fallback
// match-strategy cascade.
func matchValue(field, original string, candidates []string) *ValueCandidate {
	if len(candidates) == 0 {
		return nil
	}
	for _, c := range candidates {
		if strings.EqualFold(c, original) {
			return &ValueCandidate{Field: field, OriginalValue: original, Candidates: []string{c}, MatchStrategy: MatchExact}
		}
	}
	normOriginal := normalizeValue(original)
	for _, c := range candidates {
		if normalizeValue(c) == normOriginal {
			return &ValueCandidate{Field: field, OriginalValue: original, Candidates: []string{c}, MatchStrategy: MatchNormalized}
		}
	}
	var fuzzy []string
	for _, c := range candidates {
		if strings.Contains(c, original) || strings.Contains(original, c) {
			fuzzy = append(fuzzy, c)
		}
	}
	if len(fuzzy) > 0 {
		return &ValueCandidate{Field: field, OriginalValue: original, Candidates: fuzzy, MatchStrategy: MatchFuzzy}
	}
	top := candidates
	if len(top) > 5 {
		top = top[:5]
	}
	return &ValueCandidate{Field: field, OriginalValue: original, Candidates: top, MatchStrategy: MatchFallbackProbe}
}

func normalizeValue(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func buildHiddenContextHints(hc *HiddenContextResult) []string {
	var hints []string
	for _, fc := range hc.FieldCandidates {
		if len(fc.Candidates) == 0 {
			continue
		}
		hints = append(hints, fmt.Sprintf("field %s is not whitelisted; candidates: %s", fc.Missing, strings.Join(fc.Candidates, ", ")))
	}
	for _, ps := range hc.ProbeSamples {
		if ps.Error != "" || len(ps.Values) == 0 {
			continue
		}
		hints = append(hints, fmt.Sprintf("observed values for %s: %s", ps.Field, strings.Join(ps.Values, ", ")))
	}
	for _, vc := range hc.ValueCandidates {
		hints = append(hints, fmt.Sprintf("filter value %q on %s resolved via %s: %s", vc.OriginalValue, vc.Field, vc.MatchStrategy, strings.Join(vc.Candidates, ", ")))
	}
	return hints
}
