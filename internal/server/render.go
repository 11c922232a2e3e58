package server

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/rjsadow/dolist/internal/identity"
	"github.com/rjsadow/dolist/internal/todos"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"index", "todos", "edit", "error"}

// pageData is the view model shared by all pages.
type pageData struct {
	Title     string
	User      *identity.Identity
	Error     string
	Todos     []todos.Todo
	Todo      *todos.Todo
	Remaining int
}

// mustParsePages parses each page together with the shared layout.
func mustParsePages() map[string]*template.Template {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		pages[name] = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
	}
	return pages
}

// render executes a page into a buffer first so a template error never
// produces a half-written response.
func (h *handlers) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	tmpl, ok := h.pages[name]
	if !ok {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("template execution failed", "page", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		buf.WriteTo(w)
	}
}
