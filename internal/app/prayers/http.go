package prayers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/duashare/project/internal/contracts"
	"github.com/duashare/project/internal/platform/auth"
	"github.com/duashare/project/internal/platform/httpmw"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// HistoryReader serves the recorded changes of one prayer.
type HistoryReader interface {
	History(ctx context.Context, prayerID string, limit int) ([]contracts.AuditEntry, error)
}

type Handler struct {
	Service       *Service
	Admin         *auth.AdminService
	History       HistoryReader
	AllowedOrigin string
	Logger        zerolog.Logger
}

func NewHandler(service *Service, admin *auth.AdminService, allowedOrigin string, logger zerolog.Logger) *Handler {
	return &Handler{
		Service:       service,
		Admin:         admin,
		AllowedOrigin: allowedOrigin,
		Logger:        logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpmw.CORS(h.AllowedOrigin))
	r.Use(h.sessionMiddleware)

	r.Get("/api/v1/prayers", h.handleList)
	r.Post("/api/v1/prayers", h.handleCreate)
	r.Post("/api/v1/prayers/{prayerID}/ameen", h.handleAmeen)
	r.Post("/api/v1/admin/login", h.handleLogin)
	r.Post("/api/v1/admin/logout", h.handleLogout)

	r.Group(func(adminR chi.Router) {
		adminR.Use(h.requireAdmin)
		adminR.Patch("/api/v1/prayers/{prayerID}", h.handleUpdate)
		adminR.Delete("/api/v1/prayers/{prayerID}", h.handleDelete)
		adminR.Get("/api/v1/prayers/{prayerID}/history", h.handleHistory)
	})

	return r
}

type createPrayerRequest struct {
	Content string `json:"content"`
}

type ameenRequest struct {
	ObservedCount int `json:"observed_count"`
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	ExpiresIn int64  `json:"expires_in"`
}

type listResponse struct {
	View    string             `json:"view"`
	Prayers []contracts.Prayer `json:"prayers"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	view := strings.TrimSpace(r.URL.Query().Get("view"))
	publishedOnly := true
	switch view {
	case "", "public":
		view = "public"
	case "admin":
		if !auth.SessionFromContext(r.Context()).IsAdmin() {
			h.writeError(w, http.StatusForbidden, "admin session required")
			return
		}
		publishedOnly = false
	default:
		h.writeError(w, http.StatusBadRequest, "view must be public or admin")
		return
	}

	rows, err := h.Service.List(r.Context(), publishedOnly)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listResponse{View: view, Prayers: rows})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPrayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	row, err := h.Service.Create(r.Context(), req.Content)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, row)
}

func (h *Handler) handleAmeen(w http.ResponseWriter, r *http.Request) {
	var req ameenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	next := req.ObservedCount + 1
	row, err := h.Service.Update(r.Context(), chi.URLParam(r, "prayerID"), contracts.PrayerPatch{AmeenCount: &next})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch contracts.PrayerPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	row, err := h.Service.Update(r.Context(), chi.URLParam(r, "prayerID"), patch)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "prayerID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type historyResponse struct {
	PrayerID string                 `json:"prayer_id"`
	Entries  []contracts.AuditEntry `json:"entries"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		h.writeError(w, http.StatusServiceUnavailable, "history is not enabled")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	id := chi.URLParam(r, "prayerID")
	entries, err := h.History.History(r.Context(), id, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []contracts.AuditEntry{}
	}
	h.writeJSON(w, http.StatusOK, historyResponse{PrayerID: id, Entries: entries})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	token, session, err := h.Admin.Login(r.Context(), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidPassword):
			h.writeError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, auth.ErrGateDisabled):
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.writeServiceError(w, r, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		SessionID: session.ID,
		ExpiresIn: int64(h.Admin.Tokens.TTL.Seconds()),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		h.writeError(w, http.StatusBadRequest, "missing bearer token")
		return
	}
	if err := h.Admin.Logout(r.Context(), token); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionMiddleware attaches the admin session when a valid bearer token is
// present. Anonymous requests carry the zero Session.
func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" || h.Admin == nil {
			next.ServeHTTP(w, r)
			return
		}
		session, err := h.Admin.Resolve(r.Context(), token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), session)))
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.SessionFromContext(r.Context()).IsAdmin() {
			h.writeError(w, http.StatusForbidden, "admin session required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidContent), errors.Is(err, ErrPrayerIDRequired),
		errors.Is(err, ErrEmptyPatch), errors.Is(err, ErrNegativeAmeen):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPrayerNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.Logger.Error().Err(err).
			Str("request_id", httpmw.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
