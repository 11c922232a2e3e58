package api

import (
	"net/http"
	"strconv"

	"github.com/rjsadow/dolist/internal/db"
)

// link is a HAL link object.
type link struct {
	Href string `json:"href"`
}

type links map[string]link

// todoResource is a todo with its HAL links. IDs are exposed.
type todoResource struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Links     links  `json:"_links"`
}

type todoCollection struct {
	Embedded struct {
		Todos []todoResource `json:"todos"`
	} `json:"_embedded"`
	Links links `json:"_links"`
}

// baseURL reconstructs the externally visible origin of r.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func newTodoResource(base string, t db.Todo) todoResource {
	self := base + "/todos/" + strconv.FormatInt(t.ID, 10)
	return todoResource{
		ID:        t.ID,
		Title:     t.Title,
		Completed: t.Completed,
		Links:     links{"self": {Href: self}, "todo": {Href: self}},
	}
}

func newTodoCollection(base string, list []db.Todo) todoCollection {
	var c todoCollection
	c.Embedded.Todos = make([]todoResource, 0, len(list))
	for _, t := range list {
		c.Embedded.Todos = append(c.Embedded.Todos, newTodoResource(base, t))
	}
	c.Links = links{"self": {Href: base + "/todos"}}
	return c
}
