package graph

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/zhaokao/eduquery/internal/db"
	"github.com/zhaokao/eduquery/internal/kb"
	"github.com/zhaokao/eduquery/internal/llm"
	"github.com/zhaokao/eduquery/internal/metrics"
	"github.com/zhaokao/eduquery/internal/store"
)

// MaxRetry bounds the hidden-context retry cycle (spec §4.1: "MAX_RETRY = 2").
const MaxRetry = 2

// SQLExecutor is the read-only query port the sql_validate and
// hidden_context nodes depend on.
type SQLExecutor interface {
	Query(ctx context.Context, sql string) (db.Result, error)
}

// Deps bundles every external dependency a node may call, mirroring
// workflow.Config's role as the single injected dependency bag
// (agent/pkg/workflow/types.go).
type Deps struct {
	LLM      llm.Client
	KB       *kb.KB
	Executor SQLExecutor
	Store    store.Store
	Log      *slog.Logger

	IntentModel  string
	SQLGenModel  string
	SummaryModel string

	// ExportDir is where result_return writes the CSV export for
	// oversized result sets (spec §4.7 step 5).
	ExportDir string

	// NodeIOLogDir is the root directory for per-node local I/O log
	// files (spec §3, §6: "<log_root>/<session_id>/<step>/<timestamp>-<status>.json").
	NodeIOLogDir string
}

// EventStatus is the step-level status reported to listeners (spec §4.1,
// §6 SSE event grammar).
type EventStatus string

const (
	EventStart EventStatus = "start"
	EventEnd   EventStatus = "end"
	EventError EventStatus = "error"
)

// StepEvent is emitted once per node execution (spec §4.1: "Each node
// that executes emits a structured step event... if a listener is
// registered").
type StepEvent struct {
	Step    string
	Status  EventStatus
	Message string
}

// EventFunc receives step events; streaming callers pass one that feeds
// the SSE emitter (internal/stream).
type EventFunc func(StepEvent)

const (
	nodeIntentRecognition = "intent_recognition"
	nodeTaskParse         = "task_parse"
	nodeSQLGeneration     = "sql_generation"
	nodeSQLValidate       = "sql_validate"
	nodeHiddenContext     = "hidden_context"
	nodeResultReturn      = "result_return"
	nodeEnd               = ""
)

type nodeFunc func(ctx context.Context, deps *Deps, state *State) error

var dispatch = map[string]nodeFunc{
	nodeIntentRecognition: runIntentRecognition,
	nodeTaskParse:         runTaskParse,
	nodeSQLGeneration:     runSQLGeneration,
	nodeSQLValidate:       runSQLValidate,
	nodeHiddenContext:     runHiddenContext,
	nodeResultReturn:      runResultReturn,
}

// Run executes the graph to completion for one request's State (spec
// §4.1). It returns a non-nil error only when a node the spec marks
// fatal (intent, parse, validate, hidden-context, result-return) fails;
// sql_generation failures are absorbed into a synthetic validate result
// and routed through the retry loop instead.
func Run(ctx context.Context, deps *Deps, state *State, onEvent EventFunc) error {
	node := nodeIntentRecognition

	// guardIterations bounds worst-case loop cost defensively; the spec's
	// own edges already bound it to at most 3 sql_generation + 3
	// sql_validate + 2 hidden_context phases per request (§5).
	const guardIterations = 32
	for i := 0; node != nodeEnd; i++ {
		if i >= guardIterations {
			return newNodeError("graph_loop_exceeded", "node %q executed past the iteration guard", node)
		}

		fn, ok := dispatch[node]
		if !ok {
			return newNodeError("unknown_node", "no node registered for %q", node)
		}

		emit(onEvent, node, EventStart, "")
		if node == nodeSQLGeneration {
			state.SQLGenerationCount++
		}

		inputJSON := snapshotInput(node, state)
		err := fn(ctx, deps, state)
		appendWorkflowLog(state, node, inputJSON, err)
		writeNodeIOLog(deps, state, node, inputJSON, err)
		if err != nil {
			metrics.NodeExecutions.WithLabelValues(node, "error").Inc()
			emit(onEvent, node, EventError, err.Error())
			if isFatalNode(node) {
				return err
			}
		} else {
			metrics.NodeExecutions.WithLabelValues(node, "ok").Inc()
			emit(onEvent, node, EventEnd, "")
		}
		if node == nodeHiddenContext && err == nil {
			metrics.HiddenContextRetries.WithLabelValues(strconv.Itoa(state.HiddenContextRetryCount)).Inc()
		}

		node = nextNode(node, state)
	}
	return nil
}

func isFatalNode(node string) bool {
	switch node {
	case nodeIntentRecognition, nodeTaskParse, nodeSQLValidate, nodeHiddenContext, nodeResultReturn:
		return true
	default:
		return false
	}
}

// nextNode implements the conditional edges of spec §4.1.
func nextNode(current string, state *State) string {
	switch current {
	case nodeIntentRecognition:
		if state.IntentResult != nil && state.IntentResult.Intent == IntentBusinessQuery {
			return nodeTaskParse
		}
		return nodeResultReturn

	case nodeTaskParse:
		return nodeSQLGeneration

	case nodeSQLGeneration:
		if state.SQLResult != nil && !state.SQLResult.GenerationFailed {
			return nodeSQLValidate
		}
		if state.HiddenContextRetryCount < MaxRetry {
			return nodeHiddenContext
		}
		return nodeResultReturn

	case nodeSQLValidate:
		v := state.SQLValidateResult
		if v != nil && v.IsValid && !v.EmptyResult && !v.ZeroMetricResult {
			return nodeResultReturn
		}
		if state.HiddenContextRetryCount < MaxRetry {
			return nodeHiddenContext
		}
		return nodeResultReturn

	case nodeHiddenContext:
		// The node increments retry_count on success only (spec §9 Open
		// Questions; §4.6 step 9). If the count now exceeds MaxRetry, skip
		// straight to result_return instead of generating again; at exactly
		// MaxRetry one more generation runs with the latest hidden context.
		if state.HiddenContextRetryCount > MaxRetry {
			return nodeResultReturn
		}
		return nodeSQLGeneration

	default:
		return nodeEnd
	}
}

func emit(onEvent EventFunc, step string, status EventStatus, message string) {
	if onEvent == nil {
		return
	}
	onEvent(StepEvent{Step: step, Status: status, Message: message})
}

// nowISO formats t as an ISO-seconds UTC timestamp, the same layout
// stream.NowISO uses for SSE payloads (spec §6).
func nowISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
