package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhaokao/eduquery/internal/config"
	"github.com/zhaokao/eduquery/internal/graph"
	"github.com/zhaokao/eduquery/internal/stream"
)

// Server bundles the graph dependencies and configuration the chat
// endpoints need, grounded on api/handlers/chat.go's per-request
// component assembly from the teacher pack, adapted from a per-call
// workflow.Config build to a process-wide injected Deps (DESIGN NOTES
// §9: "DB and LLM clients are per-request" pools, assembled once at
// bootstrap in cmd/server).
type Server struct {
	Deps *graph.Deps
	Cfg  *config.Config
}

// ChatRequest is the incoming request body for both /api/chat and
// /api/chat/stream (spec §6).
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	ModelName string `json:"model_name,omitempty"`
}

// ChatParseData is the synchronous response payload (spec §6: "data:
// <ChatParseData>").
type ChatParseData struct {
	SessionID      string           `json:"session_id"`
	FinalStatus    string           `json:"final_status"`
	ReasonCode     string           `json:"reason_code,omitempty"`
	Skipped        bool             `json:"skipped"`
	Summary        string           `json:"summary,omitempty"`
	AssistantReply string           `json:"assistant_reply"`
	Task           *graph.ParseResult `json:"task"`
	Rows           []map[string]any `json:"rows,omitempty"`
	DownloadName   string           `json:"download_name,omitempty"`
}

// Chat handles POST /api/chat: build state, run the graph synchronously,
// persist (inside result_return), and return the structured response.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	req, adminID, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	state, err := s.newState(r.Context(), adminID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := graph.Run(r.Context(), s.Deps, state, nil); err != nil {
		s.Deps.Log.Error("httpapi: chat workflow failed", "session_id", state.SessionID, "client_ip", clientIP(r), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeOK(w, chatParseDataFromState(state))
}

// ChatStream handles POST /api/chat/stream: SSE framing of graph step
// events, or a synchronous fallback when the server is configured for
// "sync" mode (spec §6: "When server is in 'sync' mode, falls back to
// the non-stream response").
func (s *Server) ChatStream(w http.ResponseWriter, r *http.Request) {
	req, adminID, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	state, err := s.newState(r.Context(), adminID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.Cfg.ChatStreamMode == config.StreamModeSync {
		if err := graph.Run(r.Context(), s.Deps, state, nil); err != nil {
			s.Deps.Log.Error("httpapi: chat workflow failed", "session_id", state.SessionID, "client_ip", clientIP(r), "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeOK(w, chatParseDataFromState(state))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("X-Accel-Buffering", "no")

	emitter, ok := stream.NewEmitter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	emitter.Prelude()

	frames := stream.RunWorker(r.Context(), s.Deps, state)
	heartbeat := time.NewTicker(stream.HeartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case frame, open := <-frames:
			if !open {
				return
			}
			if err := emitter.Send(frame.Name, frame.Payload); err != nil {
				return
			}
		case <-heartbeat.C:
			emitter.Heartbeat()
		case <-r.Context().Done():
			// spec §5: a disconnect surfaces only after the next emitted
			// event; the worker goroutine keeps running to completion and
			// persists via result_return regardless.
			return
		}
	}
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, int64, bool) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, 0, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return req, 0, false
	}
	adminID, authed := AdminIDFromContext(r.Context())
	if !authed {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req, 0, false
	}
	return req, adminID, true
}

// newState loads the session's last-4-user-messages history (spec §2:
// "the orchestrator loads the last four user messages of the session")
// and initializes the per-request graph State.
func (s *Server) newState(ctx context.Context, adminID int64, req ChatRequest) (*graph.State, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var history []string
	if s.Deps.Store != nil {
		h, err := s.Deps.Store.LastUserMessages(ctx, sessionID, 4)
		if err != nil {
			return nil, err
		}
		history = h
	}

	modelName := req.ModelName
	if modelName == "" {
		modelName = s.Deps.SQLGenModel
	}

	return &graph.State{
		Message:             strings.TrimSpace(req.Message),
		HistoryUserMessages: history,
		Threshold:           s.Cfg.IntentThreshold,
		ModelName:           modelName,
		AdminID:             adminID,
		SessionID:           sessionID,
	}, nil
}

func chatParseDataFromState(state *graph.State) ChatParseData {
	rr := state.ResultReturnResult
	if rr == nil {
		return ChatParseData{SessionID: state.SessionID}
	}
	return ChatParseData{
		SessionID:      state.SessionID,
		FinalStatus:    rr.FinalStatus,
		ReasonCode:     rr.ReasonCode,
		Skipped:        rr.Skipped,
		Summary:        rr.Summary,
		AssistantReply: rr.AssistantReply,
		Task:           rr.Task,
		Rows:           rr.Rows,
		DownloadName:   rr.DownloadName,
	}
}
