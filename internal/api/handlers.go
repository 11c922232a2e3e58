package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rjsadow/dolist/internal/db"
	"github.com/rjsadow/dolist/internal/middleware"
)

const (
	maxBodyBytes  = 64 << 10
	maxTitleRunes = 255
)

type handlers struct {
	db     *db.DB
	logger *slog.Logger
}

// todoInput is the body accepted by POST and PUT. Completed defaults to false.
type todoInput struct {
	Title     *string `json:"title"`
	Completed bool    `json:"completed"`
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handlers) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.db.ListTodos(r.Context())
	if err != nil {
		h.internalError(w, r, "list todos", err)
		return
	}
	writeHAL(w, http.StatusOK, newTodoCollection(baseURL(r), list))
}

func (h *handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}

	todo := db.Todo{Title: in.title, Completed: in.completed}
	if err := h.db.CreateTodo(r.Context(), &todo); err != nil {
		h.internalError(w, r, "create todo", err)
		return
	}

	res := newTodoResource(baseURL(r), todo)
	w.Header().Set("Location", res.Links["self"].Href)
	writeHAL(w, http.StatusCreated, res)

	h.logger.Info("todo created", "id", todo.ID, "subject", subject(r))
}

func (h *handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	todo, err := h.db.GetTodo(r.Context(), id)
	if err != nil {
		h.internalError(w, r, "get todo", err)
		return
	}
	if todo == nil {
		writeJSONError(w, http.StatusNotFound, "todo not found")
		return
	}
	writeHAL(w, http.StatusOK, newTodoResource(baseURL(r), *todo))
}

func (h *handlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}

	todo := db.Todo{ID: id, Title: in.title, Completed: in.completed}
	found, err := h.db.UpdateTodo(r.Context(), todo)
	if err != nil {
		h.internalError(w, r, "update todo", err)
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "todo not found")
		return
	}
	writeHAL(w, http.StatusOK, newTodoResource(baseURL(r), todo))
}

func (h *handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	found, err := h.db.DeleteTodo(r.Context(), id)
	if err != nil {
		h.internalError(w, r, "delete todo", err)
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "todo not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("failed to "+op, "error", err, "request_id", middleware.GetRequestID(r.Context()))
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}

type validInput struct {
	title     string
	completed bool
}

func decodeInput(w http.ResponseWriter, r *http.Request) (validInput, bool) {
	var in todoInput
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return validInput{}, false
	}
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		writeJSONError(w, http.StatusBadRequest, "title is required")
		return validInput{}, false
	}
	title := strings.TrimSpace(*in.Title)
	if len([]rune(title)) > maxTitleRunes {
		writeJSONError(w, http.StatusBadRequest, "title is too long")
		return validInput{}, false
	}
	return validInput{title: title, completed: in.Completed}, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusNotFound, "todo not found")
		return 0, false
	}
	return id, true
}

func subject(r *http.Request) string {
	if ident := middleware.IdentityFromContext(r.Context()); ident != nil {
		return ident.Subject
	}
	return ""
}

func writeHAL(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/hal+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
