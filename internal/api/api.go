// Package api implements the todo resource server: a small hypermedia REST
// API over the todos table, protected by bearer access tokens.
package api

import (
	"log/slog"
	"net/http"

	"github.com/rjsadow/dolist/internal/db"
	"github.com/rjsadow/dolist/internal/identity"
	"github.com/rjsadow/dolist/internal/middleware"
)

// Server holds the resource server's dependencies.
type Server struct {
	DB         *db.DB
	Verifier   identity.Verifier
	CORSOrigin string                  // empty disables CORS
	Limiter    *middleware.RateLimiter // nil disables rate limiting
	Logger     *slog.Logger
}

// Handler builds the resource server's HTTP handler.
func (s *Server) Handler() http.Handler {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	h := &handlers{db: s.DB, logger: s.Logger}

	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)

	auth := middleware.Authenticate(s.Verifier)
	mux.Handle("GET /todos", auth(http.HandlerFunc(h.handleList)))
	mux.Handle("POST /todos", auth(http.HandlerFunc(h.handleCreate)))
	mux.Handle("GET /todos/{id}", auth(http.HandlerFunc(h.handleGet)))
	mux.Handle("PUT /todos/{id}", auth(http.HandlerFunc(h.handleUpdate)))
	mux.Handle("DELETE /todos/{id}", auth(http.HandlerFunc(h.handleDelete)))

	var handler http.Handler = mux
	handler = middleware.CORS(s.CORSOrigin)(handler)
	if s.Limiter != nil {
		handler = middleware.RateLimit(s.Limiter)(handler)
	}
	return middleware.RequestID(middleware.Logging(s.Logger)(handler))
}
