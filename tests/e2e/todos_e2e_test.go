package e2e

import (
	"net/http"
	"net/url"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Route guard", func() {
	It("sends unauthenticated visitors to the hosted login", func() {
		resp, err := noFollow(newBrowser()).Get(baseURL + "/todos")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusFound))
		loc, err := url.Parse(resp.Header.Get("Location"))
		Expect(err).NotTo(HaveOccurred())
		Expect(loc.Query().Get("state")).NotTo(BeEmpty())
	})

	It("answers JSON routes with 401 instead of redirecting", func() {
		resp, err := noFollow(newBrowser()).Get(baseURL + "/api/todos")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("returns to the requested page after login", func() {
		browser := newBrowser()
		resp, err := browser.Get(baseURL + "/todos")
		Expect(err).NotTo(HaveOccurred())
		body := readBody(resp)

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Request.URL.Path).To(Equal("/todos"))
		Expect(body).To(ContainSubstring("remaining"))
	})
})

var _ = Describe("Todos", Ordered, func() {
	var (
		browser *http.Client
		created todo
	)

	BeforeAll(func() {
		browser = newBrowser()
		resp := login(browser)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("creates a todo through the JSON routes", func() {
		resp := apiCall(browser, http.MethodPost, "/api/todos", `{"title":"e2e todo","completed":false}`)
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		decode(resp, &created)
		Expect(created.ID).NotTo(BeZero())
		Expect(created.Title).To(Equal("e2e todo"))
	})

	It("lists it", func() {
		var list []todo
		decode(apiCall(browser, http.MethodGet, "/api/todos", ""), &list)
		Expect(list).To(ContainElement(created))
	})

	It("completes it with the page form", func() {
		resp := postForm(browser, "/todos/"+strconv.FormatInt(created.ID, 10), url.Values{
			"title":     {created.Title},
			"completed": {"on"},
		})
		readBody(resp)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var list []todo
		decode(apiCall(browser, http.MethodGet, "/api/todos", ""), &list)
		Expect(list).To(ContainElement(todo{ID: created.ID, Title: created.Title, Completed: true}))
	})

	It("deletes it", func() {
		resp := apiCall(browser, http.MethodDelete, "/api/todos/"+strconv.FormatInt(created.ID, 10), "")
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		var list []todo
		decode(apiCall(browser, http.MethodGet, "/api/todos", ""), &list)
		Expect(list).NotTo(ContainElement(HaveField("ID", created.ID)))
	})
})

var _ = Describe("Resource server", func() {
	It("rejects calls without a bearer token", func() {
		resp, err := http.Get(apiURL + "/todos")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})
})
