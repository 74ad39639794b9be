package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// SessionPreviewDTO is one row of GET /api/chat/sessions (spec §6).
type SessionPreviewDTO struct {
	SessionID string `json:"session_id"`
	Preview   string `json:"preview"`
	CreatedAt string `json:"created_at"`
}

// ChatMessageDTO is one row of GET /api/chat/sessions/{id}/messages.
type ChatMessageDTO struct {
	ID        int64  `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	ModelName string `json:"model_name,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ListSessions handles GET /api/chat/sessions?offset&limit.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	offset, limit := parsePagination(r)

	sessions, err := s.Deps.Store.ListSessions(r.Context(), adminID, offset, limit)
	if err != nil {
		s.Deps.Log.Error("httpapi: list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]SessionPreviewDTO, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionPreviewDTO{
			SessionID: sess.SessionID,
			Preview:   sess.Preview,
			CreatedAt: sess.CreatedAt.UTC().Format(rfc3339),
		})
	}
	writeOK(w, out)
}

// ListSessionMessages handles GET /api/chat/sessions/{id}/messages?offset&limit.
func (s *Server) ListSessionMessages(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	sessionID := chi.URLParam(r, "id")
	offset, limit := parsePagination(r)

	messages, err := s.Deps.Store.ListMessages(r.Context(), adminID, sessionID, offset, limit)
	if err != nil {
		s.Deps.Log.Error("httpapi: list session messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]ChatMessageDTO, 0, len(messages))
	for _, m := range messages {
		out = append(out, ChatMessageDTO{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			ModelName: m.ModelName,
			CreatedAt: m.CreatedAt.UTC().Format(rfc3339),
		})
	}
	writeOK(w, out)
}

// DeleteSession handles DELETE /api/chat/sessions/{id} (soft-delete).
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	sessionID := chi.URLParam(r, "id")
	if err := s.Deps.Store.SoftDeleteSession(r.Context(), adminID, sessionID); err != nil {
		s.Deps.Log.Error("httpapi: delete session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, nil)
}

// DeleteAllSessions handles DELETE /api/chat/sessions (soft-delete every
// session for the authenticated admin).
func (s *Server) DeleteAllSessions(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := s.Deps.Store.SoftDeleteAllSessions(r.Context(), adminID); err != nil {
		s.Deps.Log.Error("httpapi: delete all sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, nil)
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

const (
	defaultLimit = 20
	maxLimit     = 100
)

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return offset, limit
}
