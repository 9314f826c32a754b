package feedstream

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/duashare/project/internal/app/feed"
	"github.com/duashare/project/internal/contracts"
	"github.com/duashare/project/internal/platform/auth"
	"github.com/duashare/project/services/frontend"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const AdminCookie = "duashare_admin"

type Handler struct {
	Registry *Registry
	Mutator  *feed.Mutator
	Admin    *auth.AdminService
	Logger   zerolog.Logger
	Now      func() time.Time

	// LoadTimeout is how long a new viewer waits for the first snapshot
	// before a load failure notice is shown.
	LoadTimeout  time.Duration
	// WriteTimeout bounds a backend mutation. The write is detached from the
	// request so a viewer leaving mid-action does not cancel it.
	WriteTimeout time.Duration
	Heartbeat    time.Duration
	SecureCookie bool
}

func NewHandler(registry *Registry, admin *auth.AdminService, logger zerolog.Logger) *Handler {
	return &Handler{
		Registry:     registry,
		Mutator:      registry.Mutator(),
		Admin:        admin,
		Logger:       logger,
		Now:          func() time.Time { return time.Now().UTC() },
		LoadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		Heartbeat:    25 * time.Second,
	}
}

func (h *Handler) writeContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/", templ.Handler(frontend.PublicPage()))
	r.Get("/admin", h.handleAdminPage)
	r.Handle("/static/*", http.StripPrefix("/static/", frontend.StaticHandler()))
	r.Get("/events", h.handleEvents)

	r.Post("/ui/prayers", h.handleSubmit)
	r.Post("/ui/prayers/{prayerID}/ameen", h.handleAmeen)
	r.Post("/ui/admin/login", h.handleLogin)
	r.Post("/ui/admin/logout", h.handleLogout)
	r.Post("/ui/admin/prayers/{prayerID}/publish", h.handlePublish)
	r.Post("/ui/admin/prayers/{prayerID}/delete", h.handleDelete)
	return r
}

// session resolves the admin cookie. Anything unusable is the public session.
func (h *Handler) session(r *http.Request) auth.Session {
	if h.Admin == nil {
		return auth.Session{}
	}
	cookie, err := r.Cookie(AdminCookie)
	if err != nil || cookie.Value == "" {
		return auth.Session{}
	}
	session, err := h.Admin.Resolve(r.Context(), cookie.Value)
	if err != nil {
		return auth.Session{}
	}
	return session
}

func (h *Handler) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	signedIn := h.session(r).IsAdmin()
	failed := r.URL.Query().Get("error") == "1"
	templ.Handler(frontend.AdminPage(signedIn, failed)).ServeHTTP(w, r)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := feed.PublicFilter
	switch r.URL.Query().Get("view") {
	case "", "public":
	case "admin":
		if !h.session(r).IsAdmin() {
			http.Error(w, "admin session required", http.StatusForbidden)
			return
		}
		filter = feed.AdminFilter
	default:
		http.Error(w, "view must be public or admin", http.StatusBadRequest)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rec, release := h.Registry.Acquire(filter)
	defer release()
	signal, stop := rec.Watch()
	defer stop()

	ctx := r.Context()
	send := func() error {
		return sse.patchElements(ctx, "#"+listID(filter), "outer", h.list(filter, rec.Snapshot()))
	}
	if rec.Loaded() {
		if err := send(); err != nil {
			return
		}
	}

	loadTimer := time.NewTimer(h.LoadTimeout)
	defer loadTimer.Stop()
	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-signal:
			if err := send(); err != nil {
				return
			}
		case <-loadTimer.C:
			if !rec.Loaded() {
				_ = sse.patchElements(ctx, "#"+frontend.NoticeID, "outer", frontend.Notice(frontend.NoticeError, "Failed to load prayers"))
			}
		case <-heartbeat.C:
			if err := sse.comment("ping"); err != nil {
				return
			}
		}
	}
}

func listID(filter feed.Filter) string {
	if filter.PublishedOnly {
		return frontend.FeedID
	}
	return frontend.AdminFeedID
}

func (h *Handler) list(filter feed.Filter, rows []contracts.Prayer) templ.Component {
	if filter.PublishedOnly {
		return frontend.FeedList(rows, h.Now())
	}
	return frontend.AdminList(rows, h.Now())
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	content := r.PostFormValue("content")
	ctx, cancel := h.writeContext(r)
	_, err := h.Mutator.SubmitPrayer(ctx, content)
	cancel()

	sse, sseErr := newSSEWriter(w)
	if sseErr != nil {
		http.Error(w, sseErr.Error(), http.StatusInternalServerError)
		return
	}
	if err != nil {
		h.logFailure(r, "submit", err)
		_ = sse.patchElements(r.Context(), "#"+frontend.NoticeID, "outer", frontend.Notice(frontend.NoticeError, failureMessage("submit", err)))
		return
	}
	_ = sse.patchElements(r.Context(), "#"+frontend.FormID, "outer", frontend.PrayerForm(""))
	_ = sse.patchSignals(`{"content":""}`)
	_ = sse.patchElements(r.Context(), "#"+frontend.NoticeID, "outer", frontend.Notice(frontend.NoticeSuccess, "Prayer shared successfully"))
}

func (h *Handler) handleAmeen(w http.ResponseWriter, r *http.Request) {
	observed, err := strconv.Atoi(r.URL.Query().Get("observed"))
	if err != nil {
		err = feed.ErrValidationFailed
	} else {
		ctx, cancel := h.writeContext(r)
		err = h.Mutator.RecordAmeen(ctx, chi.URLParam(r, "prayerID"), observed)
		cancel()
	}
	h.respond(w, r, "ameen", err, "Ameen recorded")
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	value, err := strconv.ParseBool(r.URL.Query().Get("value"))
	if err != nil {
		h.respond(w, r, "publish", feed.ErrValidationFailed, "")
		return
	}
	ctx, cancel := h.writeContext(r)
	err = h.Mutator.SetPublished(ctx, h.session(r), chi.URLParam(r, "prayerID"), value)
	cancel()
	ok := "Prayer unpublished"
	if value {
		ok = "Prayer published"
	}
	h.respond(w, r, "publish", err, ok)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	confirmed := r.URL.Query().Get("confirm") == "true"
	ctx, cancel := h.writeContext(r)
	err := h.Mutator.DeletePrayer(ctx, h.session(r), chi.URLParam(r, "prayerID"), confirmed)
	cancel()
	h.respond(w, r, "delete", err, "Prayer deleted permanently")
}

// respond answers a UI action with a notice patch. The list itself updates
// through the open event stream.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, op string, err error, success string) {
	sse, sseErr := newSSEWriter(w)
	if sseErr != nil {
		http.Error(w, sseErr.Error(), http.StatusInternalServerError)
		return
	}
	notice := frontend.Notice(frontend.NoticeSuccess, success)
	if err != nil {
		h.logFailure(r, op, err)
		notice = frontend.Notice(frontend.NoticeError, failureMessage(op, err))
	}
	_ = sse.patchElements(r.Context(), "#"+frontend.NoticeID, "outer", notice)
}

func (h *Handler) logFailure(r *http.Request, op string, err error) {
	event := h.Logger.Warn()
	if errors.Is(err, feed.ErrBackendUnavailable) {
		event = h.Logger.Error()
	}
	event.Err(err).Str("op", op).Str("path", r.URL.Path).Msg("ui action failed")
}

func failureMessage(op string, err error) string {
	switch {
	case errors.Is(err, contracts.ErrContentRequired):
		return "Please write a prayer before sharing."
	case errors.Is(err, contracts.ErrContentTooLong):
		return "Prayers are limited to " + strconv.Itoa(contracts.MaxContentLength) + " characters."
	case errors.Is(err, feed.ErrValidationFailed):
		return "That request was not valid."
	case errors.Is(err, feed.ErrNotFound):
		return "This prayer no longer exists."
	case errors.Is(err, feed.ErrAdminRequired):
		return "Admin session required."
	case errors.Is(err, feed.ErrConfirmationRequired):
		return "Please confirm before deleting."
	}
	switch op {
	case "submit":
		return "Failed to share prayer. Please try again."
	case "ameen":
		return "Failed to record ameen. Please try again."
	case "publish":
		return "Failed to update prayer. Please try again."
	case "delete":
		return "Failed to delete prayer. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	token, _, err := h.Admin.Login(r.Context(), r.PostFormValue("password"))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidPassword) {
			h.Logger.Error().Err(err).Msg("admin login failed")
		}
		http.Redirect(w, r, "/admin?error=1", http.StatusSeeOther)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AdminCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.Admin.Tokens.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(AdminCookie); err == nil && strings.TrimSpace(cookie.Value) != "" {
		if err := h.Admin.Logout(r.Context(), cookie.Value); err != nil {
			h.Logger.Error().Err(err).Msg("admin logout failed")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AdminCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}
