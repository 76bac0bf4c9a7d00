package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-chi/chi/v5"
)

// requireAdmin guards the admin surface with HTTP basic auth. The password
// hash is computed once at startup from the configured admin password.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, password, ok := r.BasicAuth()
		if !ok || h.config.AdminHash == "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(h.config.AdminHash), []byte(password)); err != nil {
			slog.Warn("admin auth failed", "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleAdminListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := h.store.ListSessions(limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    len(sessions),
		"sessions": sessions,
	})
}

func (h *Handler) handleAdminGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSessionAny(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleAdminSessionStats(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSessionAny(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess.Stats())
}

func (h *Handler) handleAdminArchiveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.store.ArchiveSession(sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("session archived", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	active, total, err := h.store.SessionCount()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"active_sessions": active,
		"total_sessions":  total,
	})
}

func (h *Handler) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.ExportAllSessions()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="sessions.json"`)
	writeJSON(w, http.StatusOK, export)
}
