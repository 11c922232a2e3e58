package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rjsadow/dolist/internal/identity"
	"github.com/rjsadow/dolist/internal/middleware"
	"github.com/rjsadow/dolist/internal/todos"
)

// maxFormBytes bounds form and JSON request bodies.
const maxFormBytes = 64 << 10

// handlers binds HTTP handler methods to an App's dependencies.
type handlers struct {
	app   *App
	pages map[string]*template.Template
}

// --- Health endpoints ---

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{}
	status := http.StatusOK

	if err := h.app.DB.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		checks["database"] = map[string]string{"status": "unhealthy", "error": err.Error()}
	} else {
		checks["database"] = map[string]string{"status": "healthy"}
	}

	if status == http.StatusOK {
		checks["status"] = "ready"
	} else {
		checks["status"] = "not_ready"
	}
	writeJSON(w, status, checks)
}

// --- Public pages and login ---

func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Welcome"}
	if c, err := r.Cookie(middleware.SessionCookie); err == nil {
		if sess, err := h.app.Sessions.Lookup(r.Context(), c.Value); err == nil {
			data.User = &sess.Identity
		}
	}
	h.render(w, r, http.StatusOK, "index", data)
}

func (h *handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	redirect := r.URL.Query().Get("redirect")
	if redirect == "" {
		redirect = "/todos"
	}

	loginURL, err := h.app.Sessions.Begin(r.Context(), redirect)
	if err != nil {
		slog.Error("failed to start login", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, loginURL, http.StatusFound)
}

func (h *handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		slog.Warn("identity provider returned an error", "error", errParam, "description", q.Get("error_description"))
		h.render(w, r, http.StatusBadRequest, "error", pageData{
			Title: "Sign-in failed",
			Error: "Sign-in failed: " + firstNonEmpty(q.Get("error_description"), errParam),
		})
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		h.render(w, r, http.StatusBadRequest, "error", pageData{Title: "Sign-in failed", Error: "Missing code or state parameter."})
		return
	}

	sess, redirect, err := h.app.Sessions.Complete(r.Context(), code, state)
	switch {
	case errors.Is(err, identity.ErrInvalidState), errors.Is(err, identity.ErrStateExpired):
		h.render(w, r, http.StatusBadRequest, "error", pageData{Title: "Sign-in failed", Error: "This sign-in link is no longer valid. Please try again."})
		return
	case err != nil:
		slog.Error("login callback failed", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		h.render(w, r, http.StatusUnauthorized, "error", pageData{Title: "Sign-in failed", Error: "Authentication failed."})
		return
	}

	middleware.SetSessionCookie(w, sess, h.app.Config.CookieSecure)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// --- Protected pages ---

func (h *handlers) handleTodosPage(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	list, err := h.client(r).List(r.Context())
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "todos", todosPage(sess, list, ""))
}

func (h *handlers) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	title, _, err := parseTodoForm(w, r)
	if err != nil {
		list, listErr := h.client(r).List(r.Context())
		if listErr != nil {
			h.upstreamError(w, r, listErr)
			return
		}
		h.render(w, r, http.StatusBadRequest, "todos", todosPage(sess, list, err.Error()))
		return
	}

	if _, err := h.client(r).Create(r.Context(), title, false); err != nil {
		h.upstreamError(w, r, err)
		return
	}
	http.Redirect(w, r, "/todos", http.StatusSeeOther)
}

func (h *handlers) handleEditPage(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	todo, err := h.client(r).Get(r.Context(), id)
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "edit", pageData{Title: "Edit todo", User: &sess.Identity, Todo: todo})
}

func (h *handlers) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	title, completed, err := parseTodoForm(w, r)
	if err != nil {
		h.render(w, r, http.StatusBadRequest, "edit", pageData{
			Title: "Edit todo",
			User:  &sess.Identity,
			Error: err.Error(),
			Todo:  &todos.Todo{ID: id, Completed: completed},
		})
		return
	}

	if _, err := h.client(r).Update(r.Context(), id, title, completed); err != nil {
		h.upstreamError(w, r, err)
		return
	}
	http.Redirect(w, r, "/todos", http.StatusSeeOther)
}

func (h *handlers) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.client(r).Remove(r.Context(), id); err != nil {
		h.upstreamError(w, r, err)
		return
	}
	http.Redirect(w, r, "/todos", http.StatusSeeOther)
}

// --- Protected JSON API ---

// todoInput is the JSON body accepted by the create and update routes.
type todoInput struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

func (h *handlers) handleAPIList(w http.ResponseWriter, r *http.Request) {
	list, err := h.client(r).List(r.Context())
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	if list == nil {
		list = []todos.Todo{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) handleAPICreate(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeTodoInput(w, r)
	if !ok {
		return
	}
	todo, err := h.client(r).Create(r.Context(), in.Title, in.Completed)
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, todo)
}

func (h *handlers) handleAPIUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	in, ok := decodeTodoInput(w, r)
	if !ok {
		return
	}
	todo, err := h.client(r).Update(r.Context(), id, in.Title, in.Completed)
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, todo)
}

func (h *handlers) handleAPIDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.client(r).Remove(r.Context(), id); err != nil {
		h.upstreamError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// client binds the shared todo client to the request's session.
func (h *handlers) client(r *http.Request) *todos.Client {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		return h.app.Todos.WithSession(nil)
	}
	return h.app.Todos.WithSession(sess)
}

func (h *handlers) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		if isAPI(r) {
			writeJSONError(w, http.StatusBadRequest, "invalid todo id")
		} else {
			http.Error(w, "Invalid todo id", http.StatusBadRequest)
		}
		return 0, false
	}
	return id, true
}

// upstreamError maps a todos client failure onto a response.
func (h *handlers) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	logger := slog.With("error", err, "path", r.URL.Path, "request_id", middleware.GetRequestID(r.Context()))

	if errors.Is(err, todos.ErrTokenAcquisition) || todos.IsUnauthorized(err) {
		logger.Info("session token unavailable or rejected, re-authenticating")
		if sess := middleware.SessionFromContext(r.Context()); sess != nil {
			if delErr := h.app.Sessions.Delete(r.Context(), sess.ID); delErr != nil {
				slog.Warn("failed to delete session", "session", sess.ID, "error", delErr)
			}
		}
		middleware.ClearSessionCookie(w, h.app.Config.CookieSecure)
		middleware.Unauthenticated(w, r, h.app.Sessions, h.guardConfig())
		return
	}

	status, msg := http.StatusInternalServerError, "Unexpected error"
	var srvErr *todos.ServerError
	var netErr *todos.NetworkError
	switch {
	case errors.Is(err, todos.ErrTimeout):
		status, msg = http.StatusGatewayTimeout, "The todo service did not answer in time."
	case errors.As(err, &srvErr):
		status, msg = srvErr.StatusCode, "The todo service rejected the request."
		if srvErr.StatusCode == http.StatusNotFound {
			msg = "Todo not found."
		}
	case errors.As(err, &netErr):
		status, msg = http.StatusBadGateway, "The todo service is unreachable."
	case errors.Is(err, todos.ErrMalformedResponse):
		status, msg = http.StatusBadGateway, "The todo service sent an unexpected response."
	}

	if status >= 500 {
		logger.Error("todo service call failed", "status", status)
	} else {
		logger.Warn("todo service call failed", "status", status)
	}

	if isAPI(r) {
		writeJSONError(w, status, msg)
		return
	}
	var user *identity.Identity
	if sess := middleware.SessionFromContext(r.Context()); sess != nil {
		user = &sess.Identity
	}
	h.render(w, r, status, "error", pageData{Title: "Error", User: user, Error: msg})
}

func todosPage(sess *identity.Session, list []todos.Todo, errMsg string) pageData {
	remaining := 0
	for _, t := range list {
		if !t.Completed {
			remaining++
		}
	}
	return pageData{
		Title:     "Todos",
		User:      &sess.Identity,
		Error:     errMsg,
		Todos:     list,
		Remaining: remaining,
	}
}

func parseTodoForm(w http.ResponseWriter, r *http.Request) (string, bool, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return "", false, errors.New("invalid form submission")
	}
	completed := r.PostForm.Get("completed") != ""
	title := strings.TrimSpace(r.PostForm.Get("title"))
	if title == "" {
		return "", completed, errors.New("title is required")
	}
	return title, completed, nil
}

func decodeTodoInput(w http.ResponseWriter, r *http.Request) (todoInput, bool) {
	var in todoInput
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return in, false
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		writeJSONError(w, http.StatusBadRequest, "title is required")
		return in, false
	}
	return in, true
}

func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
