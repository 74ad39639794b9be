// Package stream implements the server-sent-events encoding for the
// conversational query workflow (spec §5 "Streaming", §6 "SSE event
// grammar"), grounded on api/handlers/workflow_manager.go's
// runningWorkflow/broadcast pub-sub and api/handlers/chat.go's
// sendEvent/heartbeat handling from the teacher pack.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EventName is one of the five SSE frame names spec §6 enumerates.
type EventName string

const (
	EventWorkflowStart EventName = "workflow_start"
	EventStepStart     EventName = "step_start"
	EventStepEnd       EventName = "step_end"
	EventWorkflowError EventName = "workflow_error"
	EventWorkflowEnd   EventName = "workflow_end"
)

// Payload is the data object carried by every SSE frame (spec §6).
type Payload struct {
	SessionID string `json:"session_id"`
	Step      string `json:"step,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
	Seq       int    `json:"seq"`
	Result    any    `json:"result,omitempty"`
}

// heartbeatInterval matches spec §5's "~0.8s when idle".
const heartbeatInterval = 800 * time.Millisecond

// Frame is one producer-emitted SSE event, queued on RunWorker's buffered
// channel between the worker goroutine and the HTTP handler's writer loop.
type Frame struct {
	Name    EventName
	Payload Payload
}

// Emitter writes SSE frames to an http.ResponseWriter, with a one-shot
// prelude pad to defeat proxy buffering and a heartbeat comment ticker
// while idle (spec §5).
type Emitter struct {
	w       io.Writer
	flusher http.Flusher
	seq     int
}

// NewEmitter wraps an http.ResponseWriter. The caller is responsible for
// setting the SSE response headers before the first write (spec §6:
// "text/event-stream; charset=utf-8", "Cache-Control: no-cache,
// no-transform", "X-Accel-Buffering: no").
func NewEmitter(w http.ResponseWriter) (*Emitter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &Emitter{w: w, flusher: flusher}, true
}

// Prelude writes ~2KB of comment padding so intermediary proxies flush
// the first real frame instead of buffering it (spec §5 "prelude-padding
// comment at start to defeat proxy buffering").
func (e *Emitter) Prelude() {
	pad := make([]byte, 2048)
	for i := range pad {
		pad[i] = ' '
	}
	fmt.Fprintf(e.w, ":%s\n\n", pad)
	e.flusher.Flush()
}

// Heartbeat writes an idle comment frame, invisible to SSE event
// listeners (no "event:" line, so onmessage handlers never see it).
func (e *Emitter) Heartbeat() {
	fmt.Fprint(e.w, ": heartbeat\n\n")
	e.flusher.Flush()
}

// Send writes one named event frame with a monotonically increasing
// seq (spec §8 "Streaming order": "strictly increasing seq").
func (e *Emitter) Send(name EventName, p Payload) error {
	e.seq++
	p.Seq = e.seq
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("stream: marshal payload: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// NowISO formats t as the ISO-seconds UTC timestamp spec §6 specifies.
func NowISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// HeartbeatInterval exposes the idle-heartbeat cadence for callers that
// build their own select loop around a ticker.
func HeartbeatInterval() time.Duration {
	return heartbeatInterval
}
