package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	. "github.com/onsi/gomega"
)

type todo struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

func newBrowser() *http.Client {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &http.Client{Jar: jar}
}

func noFollow(browser *http.Client) *http.Client {
	return &http.Client{
		Jar: browser.Jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// login follows the hosted-login redirects and returns the final page.
func login(browser *http.Client) *http.Response {
	resp, err := browser.Get(baseURL + "/login")
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return string(b)
}

func apiCall(browser *http.Client, method, path, body string) *http.Response {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, baseURL+path, rdr)
	Expect(err).NotTo(HaveOccurred())
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := browser.Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decode(resp *http.Response, target any) {
	defer resp.Body.Close()
	Expect(json.NewDecoder(resp.Body).Decode(target)).To(Succeed())
}

func postForm(browser *http.Client, path string, form url.Values) *http.Response {
	resp, err := browser.PostForm(baseURL+path, form)
	Expect(err).NotTo(HaveOccurred())
	return resp
}
