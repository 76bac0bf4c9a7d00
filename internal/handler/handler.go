// Package handler exposes the simulator over a JSON HTTP API. Students
// authenticate with an opaque cookie issued by the identity endpoint; the
// admin surface uses HTTP basic auth.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/anfarias/clinicase/internal/i18n"
	"github.com/anfarias/clinicase/internal/model"
	"github.com/anfarias/clinicase/internal/sim"
	"github.com/anfarias/clinicase/internal/store"
)

const identityCookieName = "clinicase_identity"

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	sim    *sim.Simulator
	config model.Config
}

// New creates a new Handler.
func New(s *store.Store, simulator *sim.Simulator, cfg model.Config) *Handler {
	return &Handler{store: s, sim: simulator, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", h.handleCreateIdentity)

		r.Group(func(r chi.Router) {
			r.Use(h.requireIdentity)
			r.Get("/session", h.handleGetIdentity)
			r.Put("/session/name", h.handleSetName)
			r.Delete("/session", h.handleDeleteIdentity)

			r.Post("/sim/case", h.handleInitiate)
			r.Post("/sim/question", h.handleAskQuestion)
			r.Post("/sim/answer", h.handleCorrect)
			r.Get("/sim/history", h.handleHistory)
			r.Post("/sim/assessment", h.handleConclude)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/sessions", h.handleAdminListSessions)
		r.Get("/sessions/{sessionID}", h.handleAdminGetSession)
		r.Get("/sessions/{sessionID}/stats", h.handleAdminSessionStats)
		r.Post("/sessions/{sessionID}/archive", h.handleAdminArchiveSession)
		r.Get("/stats", h.handleAdminStats)
		r.Get("/export", h.handleAdminExport)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type identityCtxKey struct{}

func contextWithIdentity(ctx context.Context, ident *model.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, ident)
}

func identityFromContext(r *http.Request) *model.Identity {
	ident, _ := r.Context().Value(identityCtxKey{}).(*model.Identity)
	return ident
}

// requireIdentity resolves the identity cookie and stores the identity in
// the request context. Missing or expired credentials get a 401 that tells
// the client to start over.
func (h *Handler) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if cookie, err := r.Cookie(identityCookieName); err == nil {
			token = cookie.Value
		}

		ident, err := h.store.ResolveIdentity(token)
		if err != nil {
			if errors.Is(err, model.ErrIdentityExpired) {
				h.clearIdentityCookie(w)
			}
			writeError(w, r, err)
			return
		}

		ctx := r.Context()
		next.ServeHTTP(w, r.WithContext(contextWithIdentity(ctx, ident)))
	})
}

func (h *Handler) setIdentityCookie(w http.ResponseWriter, ident *model.Identity) {
	http.SetCookie(w, &http.Cookie{
		Name:     identityCookieName,
		Value:    ident.Token,
		Path:     "/",
		Expires:  ident.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
}

func (h *Handler) clearIdentityCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     identityCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
}

type identityResponse struct {
	SessionID   string `json:"session_id"`
	StudentName string `json:"student_name"`
	ExpiresAt   string `json:"expires_at"`
}

func identityToResponse(ident *model.Identity) identityResponse {
	return identityResponse{
		SessionID:   ident.SessionID,
		StudentName: ident.StudentName,
		ExpiresAt:   ident.ExpiresAt.Format(time.RFC3339),
	}
}

func (h *Handler) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentName string `json:"student_name"`
	}
	// An empty body is fine, the student stays anonymous.
	_ = json.NewDecoder(r.Body).Decode(&req)

	ident, err := h.store.IssueIdentity(req.StudentName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.setIdentityCookie(w, ident)
	writeJSON(w, http.StatusCreated, identityToResponse(ident))
}

func (h *Handler) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identityToResponse(identityFromContext(r)))
}

func (h *Handler) handleSetName(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r)

	var req struct {
		StudentName string `json:"student_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StudentName == "" {
		writeError(w, r, model.ErrInvalidInput)
		return
	}

	if err := h.store.SetIdentityName(ident.Token, req.StudentName); err != nil {
		writeError(w, r, err)
		return
	}
	ident.StudentName = req.StudentName
	writeJSON(w, http.StatusOK, identityToResponse(ident))
}

func (h *Handler) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r)
	if err := h.store.DeleteIdentity(ident.Token); err != nil {
		writeError(w, r, err)
		return
	}
	h.clearIdentityCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r)

	res, err := h.sim.Initiate(r.Context(), ident.SessionID, ident.StudentName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r)

	res, err := h.sim.AskQuestion(r.Context(), ident.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCorrect(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r)

	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, model.ErrInvalidInput)
		return
	}

	res, err := h.sim.Correct(r.Context(), ident.SessionID, req.Answer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r)

	res, err := h.sim.GetTranscript(r.Context(), ident.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleConclude(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r)

	res, err := h.sim.Conclude(r.Context(), ident.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error              string `json:"error"`
	RequiresNewSession bool   `json:"requires_new_session,omitempty"`
}

// writeError maps domain errors to HTTP statuses and localized messages.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msgID := "InternalError"
	requiresNew := false

	switch {
	case errors.Is(err, model.ErrInvalidInput):
		status, msgID = http.StatusBadRequest, "InvalidInput"
	case errors.Is(err, model.ErrSessionExists):
		status, msgID = http.StatusBadRequest, "SessionExists"
	case errors.Is(err, model.ErrNoPendingQuestion):
		status, msgID = http.StatusBadRequest, "NoPendingQuestion"
	case errors.Is(err, model.ErrNoIdentity):
		status, msgID, requiresNew = http.StatusUnauthorized, "NoIdentity", true
	case errors.Is(err, model.ErrIdentityExpired):
		status, msgID, requiresNew = http.StatusUnauthorized, "IdentityExpired", true
	case errors.Is(err, model.ErrSessionNotFound):
		status, msgID = http.StatusNotFound, "SessionNotFound"
	case errors.Is(err, model.ErrConflict):
		status, msgID = http.StatusConflict, "Conflict"
	case errors.Is(err, model.ErrGeneration):
		status, msgID = http.StatusInternalServerError, "GenerationFailed"
	case errors.Is(err, model.ErrInvariant):
		// A broken write guard is a programming error, not client input.
		slog.Error("invariant violation", "error", err)
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		slog.Info("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	writeJSON(w, status, errorResponse{
		Error:              appI18n.T(r.Context(), msgID),
		RequiresNewSession: requiresNew,
	})
}
