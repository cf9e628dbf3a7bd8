package web

import (
	"io/fs"
	"net/http"

	httphandler "github.com/ericfisherdev/studiopanel/internal/adapter/driving/http"
)

// RegisterRoutes registers all web GUI routes on the provided mux.
// Web routes serve HTML at / and /app/* paths.
// Static assets are served from the embedded filesystem at /static/*.
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	// Static assets (embedded via go:embed).
	staticFS, _ := fs.Sub(StaticFS, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticFS)))

	mux.HandleFunc("GET /login", h.LoginPage)
	mux.Handle("POST /login", requireCSRF(http.HandlerFunc(h.Login)))
	mux.Handle("POST /logout", requireCSRF(http.HandlerFunc(h.Logout)))

	page := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.requireLogin(fn))
	}
	action := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.requireLogin(requireCSRF(fn)))
	}

	page("GET /{$}", h.Dashboard)
	page("GET /app/schedule", h.Schedule)
	page("GET /app/notes", h.Notes)
	page("GET /app/settings", h.Settings)
	action("POST /app/settings", h.SaveSettings)
	action("POST /app/sync/refresh", h.Refresh)
	action("POST /app/collections/{name}/records/{ref}/retry", h.RetryRecord)
	action("POST /app/collections/{name}/records/{ref}/discard", h.DiscardRecord)
}

// requireLogin redirects requests without a valid session to the login page.
func (h *Handler) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := h.auth.Authenticate(httphandler.SessionToken(r))
		if !ok {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(httphandler.WithSession(r.Context(), sess)))
	})
}

// requireCSRF rejects state-changing requests whose token does not match the
// CSRF cookie.
func requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validateCSRF(r) {
			http.Error(w, "invalid CSRF token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
