package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhaokao/eduquery/internal/graph"
	"github.com/zhaokao/eduquery/internal/kb"
	"github.com/zhaokao/eduquery/internal/llm"
)

func testKB() *kb.KB {
	return kb.FromSchema(kb.Schema{
		Tables: []kb.Table{
			{
				Name: "student",
				Columns: []kb.Column{
					{Name: "id"},
					{Name: "real_name"},
				},
			},
		},
	})
}

func drain(t *testing.T, frames <-chan Frame) []Frame {
	t.Helper()
	var out []Frame
	for f := range frames {
		out = append(out, f)
	}
	return out
}

func TestRunWorker_FatalNodeEndsWithExactlyOneWorkflowError(t *testing.T) {
	deps := &graph.Deps{LLM: &llm.FakeClient{Err: errors.New("llm down")}, KB: testKB()}
	state := &graph.State{SessionID: "s1", Threshold: 0.5}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frames := drain(t, RunWorker(ctx, deps, state))

	require.NotEmpty(t, frames)
	require.Equal(t, EventWorkflowStart, frames[0].Name)

	errorCount, endCount := 0, 0
	for _, f := range frames {
		switch f.Name {
		case EventWorkflowError:
			errorCount++
		case EventWorkflowEnd:
			endCount++
		}
	}
	require.Equal(t, 1, errorCount, "exactly one workflow_error frame")
	require.Equal(t, 0, endCount)

	last := frames[len(frames)-1]
	require.Equal(t, EventWorkflowError, last.Name)
}

func TestRunWorker_ChatPathEndsWithExactlyOneWorkflowEnd(t *testing.T) {
	deps := &graph.Deps{
		LLM: &llm.FakeClient{Responses: []string{
			`{"intent":"chat","is_followup":false,"confidence":0.9,"merged_query":"hi","rewritten_query":"hi"}`,
			"你好",
		}},
		KB: testKB(),
	}
	state := &graph.State{SessionID: "s2", Message: "hi", Threshold: 0.5}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frames := drain(t, RunWorker(ctx, deps, state))

	require.NotEmpty(t, frames)
	errorCount, endCount := 0, 0
	for _, f := range frames {
		switch f.Name {
		case EventWorkflowError:
			errorCount++
		case EventWorkflowEnd:
			endCount++
		}
	}
	require.Equal(t, 0, errorCount)
	require.Equal(t, 1, endCount)

	last := frames[len(frames)-1]
	require.Equal(t, EventWorkflowEnd, last.Name)
}
