package graph

import (
	"context"
	"regexp"
	"strings"
	"time"
)

var (
	literalRe   = regexp.MustCompile(`'(?:[^'\\]|\\.)*'`)
	dotSpaceRe  = regexp.MustCompile(`\s*\.\s*`)
	fieldTokenRe = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\b`)
	cteNameRe    = regexp.MustCompile(`(?i)(?:\bWITH\b|,)\s*([A-Za-z_][A-Za-z0-9_]*)\s+AS\s*\(`)
)

// normalizeSQL implements spec §4.4's deterministic whitespace pass:
// collapse "a . b" to "a.b", and inside each single-quoted literal trim
// leading/trailing whitespace and collapse inner whitespace runs to one space.
func normalizeSQL(sql string) string {
	withTidyLiterals := literalRe.ReplaceAllStringFunc(sql, func(lit string) string {
		inner := lit[1 : len(lit)-1]
		inner = strings.Join(strings.Fields(inner), " ")
		return "'" + inner + "'"
	})
	return dotSpaceRe.ReplaceAllString(withTidyLiterals, ".")
}

// maskLiterals blanks out single-quoted literal contents (preserving
// length) so field-token and CTE-name extraction never matches inside a
// string literal.
func maskLiterals(sql string) string {
	return literalRe.ReplaceAllStringFunc(sql, func(lit string) string {
		return "'" + strings.Repeat(" ", len(lit)-2) + "'"
	})
}

func extractCTENames(sql string) map[string]struct{} {
	names := make(map[string]struct{})
	for _, m := range cteNameRe.FindAllStringSubmatch(maskLiterals(sql), -1) {
		names[strings.ToLower(m[1])] = struct{}{}
	}
	return names
}

// extractFields returns every "table.field" token (original case)
// excluding ones whose "table" part is actually a CTE alias.
func extractFields(sql string, cteNames map[string]struct{}) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range fieldTokenRe.FindAllStringSubmatch(maskLiterals(sql), -1) {
		table, col := m[1], m[2]
		if _, isCTE := cteNames[strings.ToLower(table)]; isCTE {
			continue
		}
		field := table + "." + col
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	return out
}

// selectReplacement implements the field auto-repair ranking of spec §4.4.
func selectReplacement(missing string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	parts := strings.SplitN(missing, ".", 2)
	var missingTable, missingSuffix string
	if len(parts) == 2 {
		missingTable, missingSuffix = parts[0], parts[1]
	} else {
		missingSuffix = missing
	}

	if strings.HasSuffix(missingSuffix, "_id") {
		var sameTable, otherTable []string
		for _, c := range candidates {
			cParts := strings.SplitN(c, ".", 2)
			if len(cParts) != 2 {
				continue
			}
			cTable, cCol := cParts[0], cParts[1]
			if !strings.HasSuffix(cCol, "_id") || c == cTable+".id" {
				continue
			}
			if cTable == missingTable {
				sameTable = append(sameTable, c)
			} else {
				otherTable = append(otherTable, c)
			}
		}
		if len(sameTable) > 0 {
			return sameTable[0]
		}
		if len(otherTable) > 0 {
			return otherTable[0]
		}
	}

	for _, c := range candidates {
		cParts := strings.SplitN(c, ".", 2)
		if len(cParts) == 2 && cParts[0] == missingTable {
			return c
		}
	}
	return candidates[0]
}

func fieldCandidateFor(hc *HiddenContextResult, missing string) []string {
	if hc == nil {
		return nil
	}
	for _, fc := range hc.FieldCandidates {
		if fc.Missing == missing {
			return fc.Candidates
		}
	}
	return nil
}

// replaceFieldToken rewrites every whole-word occurrence of from with to.
func replaceFieldToken(sql, from, to string) string {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(from) + `\b`)
	return re.ReplaceAllString(sql, to)
}

func failGeneration(state *State, kind, message string) {
	state.SQLResult = &SQLResult{
		SQL:              "",
		GenerationFailed: true,
		GenerationError:  kind + ": " + message,
	}
	// Synthetic validate result so the graph keeps moving (spec §4.4:
	// "emit sql_result={...} plus a synthetic sql_validate_result so that
	// the graph routes through hidden_context if budget remains").
	state.SQLValidateResult = &SQLValidateResult{
		IsValid:          false,
		Error:            kind,
		EmptyResult:      false,
		ZeroMetricResult: false,
	}
}

const sqlGenTimeout = 30 * time.Second

// runSQLGeneration implements spec §4.4. It never returns an error: a
// generation failure is absorbed into a synthetic SQLValidateResult so
// the runtime's normal routing handles the retry (spec §4.4, §7).
func runSQLGeneration(ctx context.Context, deps *Deps, state *State) error {
	query := state.RewrittenOrMerged()
	userPrompt, err := buildSQLGenUserPrompt(query, state.ParseResult, deps.KB.Whitelist(), deps.KB.Hints(), state.HiddenContextResult)
	if err != nil {
		failGeneration(state, "sql_generation_missing_sql", err.Error())
		return nil
	}

	raw, err := deps.LLM.Complete(ctx, sqlGenSystemPrompt, userPrompt, 0.1, sqlGenTimeout)
	if err != nil {
		failGeneration(state, "sql_generation_missing_sql", "completion failed: "+err.Error())
		return nil
	}

	var parsed struct {
		SQL            string          `json:"sql"`
		EntityMappings []EntityMapping `json:"entity_mappings"`
	}
	if err := extractJSONObject(raw, &parsed); err != nil {
		failGeneration(state, "sql_generation_missing_sql", err.Error())
		return nil
	}

	sql := normalizeSQL(strings.TrimSpace(parsed.SQL))
	if sql == "" {
		failGeneration(state, "sql_generation_missing_sql", "empty sql")
		return nil
	}
	if !strings.HasPrefix(strings.ToLower(sql), "with") {
		failGeneration(state, "sql_generation_not_cte", "sql does not begin with WITH")
		return nil
	}

	cteNames := extractCTENames(sql)
	fields := extractFields(sql, cteNames)
	if len(fields) == 0 {
		failGeneration(state, "sql_generation_no_fields", "no table.field references found")
		return nil
	}

	var replacements []FieldReplacement
	invalid := whitelistGaps(deps, fields)
	for _, missing := range invalid {
		candidates := fieldCandidateFor(state.HiddenContextResult, missing)
		replacement := selectReplacement(missing, candidates)
		if replacement == "" {
			continue
		}
		sql = replaceFieldToken(sql, missing, replacement)
		replacements = append(replacements, FieldReplacement{From: missing, To: replacement})
	}
	if len(replacements) > 0 {
		cteNames = extractCTENames(sql)
		fields = extractFields(sql, cteNames)
	}

	if remaining := whitelistGaps(deps, fields); len(remaining) > 0 {
		failGeneration(state, "sql_generation_invalid_fields", "unwhitelisted fields: "+strings.Join(remaining, ", "))
		return nil
	}

	fieldSet := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		fieldSet[f] = struct{}{}
	}
	for _, e := range state.ParseResult.Entities {
		if !entityIsMapped(e, parsed.EntityMappings, fieldSet) {
			failGeneration(state, "sql_generation_entity_unmapped", "entity "+e.Type+"="+e.Value+" has no covering mapping")
			return nil
		}
	}

	state.SQLResult = &SQLResult{
		SQL:                      sql,
		EntityMappings:           parsed.EntityMappings,
		SQLFields:                fields,
		AppliedFieldReplacements: replacements,
		GenerationFailed:         false,
	}
	return nil
}

func whitelistGaps(deps *Deps, fields []string) []string {
	var invalid []string
	for _, f := range fields {
		if !deps.KB.IsWhitelisted(f) {
			invalid = append(invalid, f)
		}
	}
	return invalid
}

func entityIsMapped(e Entity, mappings []EntityMapping, fieldSet map[string]struct{}) bool {
	for _, m := range mappings {
		if m.Type == e.Type && m.Value == e.Value {
			if _, ok := fieldSet[m.Field]; ok {
				return true
			}
		}
	}
	return false
}
