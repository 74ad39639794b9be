package httpapi

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Downloads handles GET /api/chat/downloads/{file}: serves a CSV export
// written by result_return (spec §4.7 step 5, §6). RequireAuth already
// accepts either a Bearer header or a ?token= query parameter, since
// browser-initiated downloads cannot set custom headers; the filename
// must start with admin_<current_admin_id>_ and path traversal is
// forbidden (spec §6).
func (s *Server) Downloads(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	name := chi.URLParam(r, "file")
	if name == "" || strings.ContainsAny(name, "/\\") || name != filepath.Base(name) || strings.Contains(name, "..") {
		writeError(w, http.StatusForbidden, "invalid filename")
		return
	}
	prefix := fmt.Sprintf("admin_%d_", adminID)
	if !strings.HasPrefix(name, prefix) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	path := filepath.Join(s.Deps.ExportDir, name)
	if _, err := filepath.Rel(s.Deps.ExportDir, path); err != nil {
		writeError(w, http.StatusForbidden, "invalid filename")
		return
	}

	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	http.ServeFile(w, r, path)
}
