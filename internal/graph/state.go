// Package graph implements the deterministic six-node conversational
// query workflow: intent recognition, task parse, SQL generation, SQL
// validate, hidden-context probe, and result return (spec §4).
package graph

import (
	"fmt"

	"github.com/zhaokao/eduquery/internal/store"
)

// Intent classifies a message as small talk or a question requiring SQL.
type Intent string

const (
	IntentChat          Intent = "chat"
	IntentBusinessQuery Intent = "business_query"
)

// Operation is the shape of a business query (spec §3).
type Operation string

const (
	OperationDetail    Operation = "detail"
	OperationAggregate Operation = "aggregate"
	OperationRanking   Operation = "ranking"
	OperationTrend     Operation = "trend"
)

var allowedOperations = map[Operation]struct{}{
	OperationDetail: {}, OperationAggregate: {}, OperationRanking: {}, OperationTrend: {},
}

// allowedFilterOps is the whole set of comparison operators task-parse may emit (spec §3).
var allowedFilterOps = map[string]struct{}{
	"=": {}, "!=": {}, "<": {}, ">": {}, "<=": {}, ">=": {},
	"like": {}, "in": {}, "not in": {}, "between": {},
}

// Entity is one extracted named value (e.g. {type: "grade", value: "22级"}).
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Filter is one parsed filter clause.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// TimeRange is an optional bound on a time dimension.
type TimeRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// IntentResult is the intent_recognition node's output (spec §3).
type IntentResult struct {
	Intent         Intent  `json:"intent"`
	IsFollowup     bool    `json:"is_followup"`
	Confidence     float64 `json:"confidence"`
	MergedQuery    string  `json:"merged_query"`
	RewrittenQuery string  `json:"rewritten_query"`
	Threshold      float64 `json:"threshold"`
}

// ParseResult is the task_parse node's output (spec §3, business_query only).
type ParseResult struct {
	Intent     Intent    `json:"intent"`
	Entities   []Entity  `json:"entities"`
	Dimensions []string  `json:"dimensions"`
	Metrics    []string  `json:"metrics"`
	Filters    []Filter  `json:"filters"`
	TimeRange  TimeRange `json:"time_range"`
	Operation  Operation `json:"operation"`
	Confidence float64   `json:"confidence"`
}

// EntityMapping explains how a parsed entity maps onto a SQL field (spec §3).
type EntityMapping struct {
	Type   string `json:"type"`
	Value  string `json:"value"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// FieldReplacement records an auto-repaired field substitution (spec §4.4).
type FieldReplacement struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SQLResult is the sql_generation node's output (spec §3).
type SQLResult struct {
	SQL                      string             `json:"sql"`
	EntityMappings           []EntityMapping    `json:"entity_mappings"`
	SQLFields                []string           `json:"sql_fields"`
	AppliedFieldReplacements []FieldReplacement `json:"applied_field_replacements,omitempty"`
	GenerationFailed         bool               `json:"generation_failed,omitempty"`
	GenerationError          string             `json:"generation_error,omitempty"`
}

// SQLValidateResult is the sql_validate node's output (spec §3).
type SQLValidateResult struct {
	IsValid     bool             `json:"is_valid"`
	Error       string           `json:"error,omitempty"`
	Rows        int              `json:"rows"`
	Result      []map[string]any `json:"result"`
	// Columns preserves the executed query's column order (the driver's
	// rows.Columns() order, per internal/db.Result), so downstream
	// rendering (inline reply, CSV export) keeps insertion order instead
	// of sorting keys alphabetically (spec §4.7 step 5: "header = union
	// of keys in insertion order").
	Columns          []string `json:"columns,omitempty"`
	ExecutedSQL      string   `json:"executed_sql"`
	EmptyResult      bool     `json:"empty_result"`
	ZeroMetricResult bool     `json:"zero_metric_result"`
}

// FieldCandidate suggests replacements for a missing whitelisted field (spec §3).
type FieldCandidate struct {
	Missing    string   `json:"missing"`
	Candidates []string `json:"candidates"`
}

// ProbeSample is the outcome of one safe DISTINCT probe query (spec §3).
type ProbeSample struct {
	Field    string   `json:"field"`
	ProbeSQL string   `json:"probe_sql"`
	Values   []string `json:"values,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// ValueCandidate is a filter-value normalization suggestion (spec §3).
type ValueCandidate struct {
	Field         string   `json:"field"`
	OriginalValue string   `json:"original_value"`
	Candidates    []string `json:"candidates"`
	MatchStrategy string   `json:"match_strategy"`
}

const (
	MatchExact           = "exact"
	MatchNormalized      = "normalized"
	MatchFuzzy           = "fuzzy"
	MatchFallbackProbe   = "fallback_probe_topn"
)

// HiddenContextResult is the hidden_context node's output (spec §3).
type HiddenContextResult struct {
	RetryReason     string           `json:"retry_reason"`
	ErrorType       string           `json:"error_type"`
	Error           string           `json:"error"`
	FailedSQL       string           `json:"failed_sql"`
	RewrittenQuery  string           `json:"rewritten_query"`
	FieldCandidates []FieldCandidate `json:"field_candidates"`
	ProbeSamples    []ProbeSample    `json:"probe_samples"`
	ValueCandidates []ValueCandidate `json:"value_candidates"`
	Hints           []string         `json:"hints"`
	RetryCount      int              `json:"retry_count"`
}

// ResultReturnResult is the result_return node's output (spec §4.7).
type ResultReturnResult struct {
	FinalStatus    string           `json:"final_status"`
	ReasonCode     string           `json:"reason_code"`
	Summary        string           `json:"summary"`
	AssistantReply string           `json:"assistant_reply"`
	Rows           []map[string]any `json:"rows"`
	Skipped        bool             `json:"skipped"`
	Task           *ParseResult     `json:"task"`
	DownloadName   string           `json:"download_name,omitempty"`
}

// State is the per-request graph state (spec §3). The runtime allocates
// one State per request; a request's graph executes on one worker.
type State struct {
	Message             string
	HistoryUserMessages []string
	Threshold           float64
	ModelName           string

	// AdminID and SessionID identify the caller for persistence (spec §6).
	AdminID   int64
	SessionID string

	IntentResult        *IntentResult
	ParseResult         *ParseResult
	SQLResult           *SQLResult
	SQLValidateResult   *SQLValidateResult
	HiddenContextResult *HiddenContextResult
	ResultReturnResult  *ResultReturnResult

	HiddenContextRetryCount int

	// SQLGenerationCount counts sql_generation executions, for the
	// retry-bound testable property (spec §8).
	SQLGenerationCount int

	// WorkflowLogs accumulates one audit entry per executed node, built by
	// the runtime as it walks the graph, for result_return to persist
	// atomically alongside the chat turn (spec §5 "Commit discipline").
	WorkflowLogs []store.WorkflowLogEntry
}

// RewrittenOrMerged returns rewritten_query if set, else merged_query
// (spec §4.4: "query := rewritten_query ?? merged_query").
func (s *State) RewrittenOrMerged() string {
	if s.IntentResult == nil {
		return s.Message
	}
	if s.IntentResult.RewrittenQuery != "" {
		return s.IntentResult.RewrittenQuery
	}
	return s.IntentResult.MergedQuery
}

// NodeError is a tagged error a node raises to the orchestrator (DESIGN
// NOTES §9: "Replace [exceptions] with explicit result tagged unions").
type NodeError struct {
	Kind    string
	Message string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newNodeError(kind, format string, args ...any) *NodeError {
	return &NodeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
