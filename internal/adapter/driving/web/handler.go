// Package web implements the HTML GUI driving adapter using templ components.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"

	httphandler "github.com/ericfisherdev/studiopanel/internal/adapter/driving/http"
	"github.com/ericfisherdev/studiopanel/internal/adapter/driving/web/templates"
	vm "github.com/ericfisherdev/studiopanel/internal/adapter/driving/web/viewmodel"
	"github.com/ericfisherdev/studiopanel/internal/application"
	"github.com/ericfisherdev/studiopanel/internal/domain/model"
	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

// connectTimeout bounds the credential check run when settings are saved.
const connectTimeout = 15 * time.Second

// refreshTimeout bounds the full refresh started after a credential change.
const refreshTimeout = 2 * time.Minute

// RemoteConnector builds a remote store for the given credentials and checks
// that it answers.
type RemoteConnector func(ctx context.Context, remoteURL, apiKey string) (driven.RemoteStore, error)

// Handler is the web GUI driving adapter that serves HTML via templ components.
type Handler struct {
	registry *application.Registry
	studio   *application.StudioService
	health   *application.SyncHealthService
	syncSvc  *application.SyncService
	auth     *application.AuthService
	creds    driven.CredentialStore
	connect  RemoteConnector
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	registry *application.Registry,
	studio *application.StudioService,
	health *application.SyncHealthService,
	syncSvc *application.SyncService,
	auth *application.AuthService,
	creds driven.CredentialStore,
	connect RemoteConnector,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		registry: registry,
		studio:   studio,
		health:   health,
		syncSvc:  syncSvc,
		auth:     auth,
		creds:    creds,
		connect:  connect,
		logger:   logger,
	}
}

// Dashboard renders the sync state of every collection.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary := h.health.Summary(ctx)

	unsettled := make(map[string][]model.Record)
	schedules := make(map[string]application.ScheduleInfo)
	for _, rec := range h.registry.All() {
		name := rec.Collection().Name
		for _, record := range rec.Records(ctx) {
			if !record.IsSynced() {
				unsettled[name] = append(unsettled[name], record)
			}
		}
		if sched, ok := h.syncSvc.GetSchedule(name); ok {
			schedules[name] = sched
		}
	}

	token := csrfToken(w, r)
	page := h.layout(r, "Sync", "dashboard", token, summary)
	h.render(w, r, http.StatusOK, page, templates.Dashboard(toDashboardViewModel(summary, unsettled, schedules, time.Now()), token))
}

// Schedule renders the weekly lesson grid.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	slots, err := h.studio.Schedule(r.Context())
	if err != nil {
		h.logger.Error("failed to build schedule", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	page := h.layout(r, "Schedule", "schedule", csrfToken(w, r), h.health.Summary(r.Context()))
	h.render(w, r, http.StatusOK, page, templates.Schedule(toScheduleViewModel(slots)))
}

// Notes renders the progress notes grouped by student.
func (h *Handler) Notes(w http.ResponseWriter, r *http.Request) {
	groups, err := h.studio.NotesByStudent(r.Context())
	if err != nil {
		h.logger.Error("failed to list notes", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	page := h.layout(r, "Notes", "notes", csrfToken(w, r), h.health.Summary(r.Context()))
	h.render(w, r, http.StatusOK, page, templates.Notes(toNotesViewModel(groups)))
}

// Settings renders the remote store credentials form.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	settings := h.settingsViewModel(r.Context())
	if r.URL.Query().Get("saved") == "1" {
		settings.Message = "Credentials saved. Connected to the remote store."
	}
	h.renderSettings(w, r, http.StatusOK, settings)
}

// SaveSettings stores new remote credentials and swaps the remote store in
// place. The credentials are checked before anything is stored.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings := h.settingsViewModel(ctx)
	if !settings.EncryptionReady {
		http.Error(w, "credential storage is disabled", http.StatusConflict)
		return
	}

	remoteURL := strings.TrimSpace(r.FormValue("remote_url"))
	apiKey := strings.TrimSpace(r.FormValue("remote_key"))
	settings.RemoteURL = remoteURL

	if apiKey == "" && settings.HasKey {
		stored, err := h.creds.Get(ctx, driven.CredentialRemoteKey)
		if err != nil {
			h.logger.Error("failed to read stored remote key", "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		apiKey = stored
	}
	if remoteURL == "" || apiKey == "" {
		settings.Error = "Project URL and API key are required."
		h.renderSettings(w, r, http.StatusUnprocessableEntity, settings)
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	store, err := h.connect(connectCtx, remoteURL, apiKey)
	if err != nil {
		h.logger.Warn("remote credentials rejected", "url", remoteURL, "error", err)
		settings.Error = "Could not connect: " + err.Error()
		h.renderSettings(w, r, http.StatusUnprocessableEntity, settings)
		return
	}

	if err := h.creds.Set(ctx, driven.CredentialRemoteURL, remoteURL); err != nil {
		h.logger.Error("failed to store remote url", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if err := h.creds.Set(ctx, driven.CredentialRemoteKey, apiKey); err != nil {
		h.logger.Error("failed to store remote key", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.registry.Remote().Replace(store, remoteURL)
	h.logger.Info("remote store replaced", "url", remoteURL)

	// Detached from the request, which ends with the redirect.
	go func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := h.syncSvc.RefreshAll(refreshCtx); err != nil {
			h.logger.Error("refresh after credential change failed", "error", err)
		}
	}()

	http.Redirect(w, r, "/app/settings?saved=1", http.StatusSeeOther)
}

// Refresh refreshes every collection and returns to the dashboard.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.syncSvc.RefreshAll(r.Context()); err != nil {
		h.logger.Error("manual refresh failed", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RetryRecord re-issues a record's pending remote operation.
func (h *Handler) RetryRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.registry.Get(r.PathValue("name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if _, err := rec.Retry(r.Context(), r.PathValue("ref")); err != nil {
		h.logger.Warn("retry failed", "collection", r.PathValue("name"), "ref", r.PathValue("ref"), "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// DiscardRecord drops a record's unconfirmed local change.
func (h *Handler) DiscardRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.registry.Get(r.PathValue("name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := rec.Discard(r.Context(), r.PathValue("ref")); err != nil {
		if !errors.Is(err, application.ErrOperationInFlight) && !errors.Is(err, application.ErrRecordNotFound) {
			h.logger.Error("discard failed", "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		h.logger.Warn("discard skipped", "ref", r.PathValue("ref"), "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// LoginPage renders the sign-in form.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.Authenticate(httphandler.SessionToken(r)); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	token := csrfToken(w, r)
	h.render(w, r, http.StatusOK, vm.LayoutViewModel{Title: "Sign in"}, templates.Login(vm.LoginViewModel{CSRFToken: token}))
}

// Login checks the form credentials and starts a browser session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.FormValue("email"))
	sess, err := h.auth.Login(r.Context(), email, r.FormValue("password"))
	if err != nil {
		status := http.StatusUnauthorized
		msg := "Invalid email or password."
		if !errors.Is(err, application.ErrInvalidCredentials) {
			h.logger.Error("login failed", "error", err)
			status = http.StatusInternalServerError
			msg = "Sign in is unavailable right now."
		}
		token := csrfToken(w, r)
		h.render(w, r, status, vm.LayoutViewModel{Title: "Sign in"},
			templates.Login(vm.LoginViewModel{Email: email, Error: msg, CSRFToken: token}))
		return
	}

	httphandler.SetSessionCookie(w, sess)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout ends the browser session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(httphandler.SessionToken(r))
	httphandler.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) settingsViewModel(ctx context.Context) vm.SettingsViewModel {
	remote := h.registry.Remote()
	settings := vm.SettingsViewModel{
		Connected:       remote.HasStore(),
		RemoteTarget:    remote.Target(),
		EncryptionReady: true,
	}

	storedURL, err := h.creds.Get(ctx, driven.CredentialRemoteURL)
	if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		settings.EncryptionReady = false
		return settings
	}
	if err != nil {
		h.logger.Error("failed to read stored remote url", "error", err)
	}
	settings.RemoteURL = storedURL
	if settings.RemoteURL == "" {
		settings.RemoteURL = remote.Target()
	}

	if key, err := h.creds.Get(ctx, driven.CredentialRemoteKey); err == nil && key != "" {
		settings.HasKey = true
	}
	return settings
}

func (h *Handler) renderSettings(w http.ResponseWriter, r *http.Request, status int, settings vm.SettingsViewModel) {
	token := csrfToken(w, r)
	page := h.layout(r, "Settings", "settings", token, h.health.Summary(r.Context()))
	h.render(w, r, status, page, templates.Settings(settings, token))
}

// layout builds the page chrome, including the remote status banner.
func (h *Handler) layout(r *http.Request, title, active, token string, summary application.SyncHealth) vm.LayoutViewModel {
	page := vm.LayoutViewModel{Title: title, Active: active, CSRFToken: token}
	if sess, ok := httphandler.SessionFromContext(r.Context()); ok {
		page.UserName = sess.Name
	}

	switch {
	case !summary.RemoteConfigured:
		page.Banner = "No remote store configured: changes are kept on this machine only."
	case summary.Degraded:
		page.Banner = "The remote store is unreachable: showing the last cached data."
	}
	return page
}

// render writes the layout-wrapped body with the given status.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page vm.LayoutViewModel, body templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.Layout(page, body).Render(r.Context(), w); err != nil {
		h.logger.Error("failed to render page", "title", page.Title, "error", err)
	}
}
