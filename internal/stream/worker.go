package stream

import (
	"context"
	"time"

	"github.com/zhaokao/eduquery/internal/graph"
)

// RunWorker executes the graph in a background goroutine, translating
// each StepEvent into an SSE Frame and pushing it onto a channel buffered
// to 64 frames, more than the at most 22 frames one run produces
// (workflow_start, two per node for at most 10 node executions, and one
// terminal frame), so the worker never blocks on a departed client. The
// channel is closed once the graph finishes — the close acts as the
// worker's terminal sentinel (spec §5: "The worker's terminal None
// sentinel signals end-of-stream").
//
// The caller's context governs only how long the *client* is waited on;
// per spec §5 ("Cancellation... a client disconnect during streaming
// surfaces only after the next emitted event"), the graph itself runs
// against context.Background so a disconnect never aborts work already
// in flight.
func RunWorker(ctx context.Context, deps *graph.Deps, state *graph.State) <-chan Frame {
	frames := make(chan Frame, 64)

	go func() {
		defer close(frames)

		frames <- Frame{Name: EventWorkflowStart, Payload: Payload{
			SessionID: state.SessionID,
			Status:    "start",
			Timestamp: NowISO(time.Now()),
		}}

		// onEvent reports step-level progress only; a node's fatal failure
		// still ends the run with exactly one workflow_error frame, sent
		// below once Run returns, so a failing node's event is reported as
		// step_end (carrying the error status/message) rather than
		// forwarded as its own workflow_error (spec §8: "ending with
		// exactly one of workflow_end or workflow_error").
		onEvent := func(ev graph.StepEvent) {
			name := EventStepStart
			if ev.Status == graph.EventEnd || ev.Status == graph.EventError {
				name = EventStepEnd
			}
			frames <- Frame{Name: name, Payload: Payload{
				SessionID: state.SessionID,
				Step:      ev.Step,
				Status:    string(ev.Status),
				Message:   ev.Message,
				Timestamp: NowISO(time.Now()),
			}}
		}

		// The workflow's own persistence/cancellation boundary is the
		// request, not the streaming client; run detached from ctx so a
		// disconnect (spec §5) never cuts the graph off mid-node.
		runCtx := context.Background()
		err := graph.Run(runCtx, deps, state, onEvent)
		if err != nil {
			frames <- Frame{Name: EventWorkflowError, Payload: Payload{
				SessionID: state.SessionID,
				Status:    "error",
				Message:   err.Error(),
				Timestamp: NowISO(time.Now()),
			}}
			return
		}

		frames <- Frame{Name: EventWorkflowEnd, Payload: Payload{
			SessionID: state.SessionID,
			Status:    "end",
			Timestamp: NowISO(time.Now()),
			Result:    state.ResultReturnResult,
		}}
	}()

	return frames
}
