package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is the {code, message, data} shape every successful /api/chat*
// response carries (spec §6: "{code:0, message:"ok", data: <...>}").
type envelope struct {
	Code    int `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Code: 0, Message: "ok", Data: data})
}

// writeError writes a plain error body; spec §6 reserves HTTP 200 for
// workflow outcomes (success/partial_success/failed are all 200-coded
// bodies) and uses non-200 status only for malformed requests, auth
// failures, download access errors, and internal failures (500, e.g. a
// fatal node error or a failed persist).
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: encode response failed", "error", err)
	}
}
