// Package server assembles the dolist web client's HTTP handler. It accepts
// all dependencies as parameters so that both main() and tests can build the
// same handler chain without route drift.
package server

import (
	"log/slog"
	"net/http"

	"github.com/rjsadow/dolist/internal/config"
	"github.com/rjsadow/dolist/internal/db"
	"github.com/rjsadow/dolist/internal/identity"
	"github.com/rjsadow/dolist/internal/middleware"
	"github.com/rjsadow/dolist/internal/todos"
)

// App holds all dependencies needed to build the HTTP handler.
type App struct {
	DB       *db.DB
	Sessions *identity.Manager
	Todos    *todos.Client // session-less; bound per request with WithSession
	Config   *config.Config
	Logger   *slog.Logger

	// LocalIssuer serves the development identity provider's endpoints
	// under /local/. Nil when a real provider is configured.
	LocalIssuer http.Handler
}

// Handler builds and returns the complete HTTP handler with all routes
// registered and middleware applied.
func (a *App) Handler() http.Handler {
	if a.Logger == nil {
		a.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	h := &handlers{app: a, pages: mustParsePages()}

	// Observability endpoints (public)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)

	// Public pages and the login handshake
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /login", h.handleLogin)
	mux.HandleFunc("GET "+a.Sessions.Provider().CallbackPath(), h.handleCallback)

	if a.LocalIssuer != nil {
		mux.Handle(identity.LocalPathPrefix+"/", a.LocalIssuer)
	}

	guard := middleware.RequireSession(a.Sessions, h.guardConfig())
	protected := func(fn http.HandlerFunc) http.Handler {
		return guard(middleware.NoStore(fn))
	}

	// Protected pages
	mux.Handle("GET /todos", protected(h.handleTodosPage))
	mux.Handle("POST /todos", protected(h.handleCreateForm))
	mux.Handle("GET /todos/{id}/edit", protected(h.handleEditPage))
	mux.Handle("POST /todos/{id}", protected(h.handleUpdateForm))
	mux.Handle("POST /todos/{id}/delete", protected(h.handleDeleteForm))

	// Protected JSON API
	mux.Handle("GET /api/todos", protected(h.handleAPIList))
	mux.Handle("POST /api/todos", protected(h.handleAPICreate))
	mux.Handle("PUT /api/todos/{id}", protected(h.handleAPIUpdate))
	mux.Handle("DELETE /api/todos/{id}", protected(h.handleAPIDelete))

	return middleware.SecurityHeaders(middleware.RequestID(middleware.Logging(a.Logger)(mux)))
}

func (h *handlers) guardConfig() middleware.GuardConfig {
	return middleware.GuardConfig{
		APIPrefix:    "/api/",
		CookieSecure: h.app.Config.CookieSecure,
	}
}
