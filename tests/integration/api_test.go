package integration

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/rjsadow/dolist/internal/api"
	"github.com/rjsadow/dolist/tests/integration/testutil"
)

type halTodo struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Links     map[string]struct {
		Href string `json:"href"`
	} `json:"_links"`
}

type halCollection struct {
	Embedded struct {
		Todos []halTodo `json:"todos"`
	} `json:"_embedded"`
}

func TestAPI_SessionTokenIsAccepted(t *testing.T) {
	s := testutil.NewStack(t)
	token := s.AccessToken(t)

	resp := testutil.AuthDo(t, http.MethodPost, s.APIURL+"/todos", token, []byte(`{"title":"Direct call"}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, testutil.ReadBody(t, resp))
	}
	var created halTodo
	testutil.ReadJSON(t, resp, &created)
	self := s.APIURL + "/todos/" + strconv.FormatInt(created.ID, 10)
	if created.Links["self"].Href != self {
		t.Errorf("expected self link %s, got %q", self, created.Links["self"].Href)
	}

	resp = testutil.AuthDo(t, http.MethodGet, s.APIURL+"/todos", token, nil)
	if ct := resp.Header.Get("Content-Type"); ct != "application/hal+json" {
		t.Errorf("expected HAL content type, got %q", ct)
	}
	var coll halCollection
	testutil.ReadJSON(t, resp, &coll)
	if len(coll.Embedded.Todos) != 1 || coll.Embedded.Todos[0].Title != "Direct call" {
		t.Errorf("unexpected collection: %+v", coll)
	}
}

func TestAPI_RejectsMissingAndForgedTokens(t *testing.T) {
	s := testutil.NewStack(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"unsigned", "eyJhbGciOiJub25lIn0.eyJzdWIiOiJhbGljZSJ9."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testutil.AuthDo(t, http.MethodGet, s.APIURL+"/todos", tt.token, nil)
			resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", resp.StatusCode)
			}
			if resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("expected a WWW-Authenticate challenge")
			}
		})
	}
}

func TestAPI_ValidationAndNotFound(t *testing.T) {
	s := testutil.NewStack(t)
	token := s.AccessToken(t)

	resp := testutil.AuthDo(t, http.MethodPost, s.APIURL+"/todos", token, []byte(`{"title":"   "}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank title: expected 400, got %d", resp.StatusCode)
	}

	resp = testutil.AuthDo(t, http.MethodPut, s.APIURL+"/todos/999", token, []byte(`{"title":"x"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", resp.StatusCode)
	}

	resp = testutil.AuthDo(t, http.MethodDelete, s.APIURL+"/todos/999", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", resp.StatusCode)
	}
}

func TestAPI_CORSPreflightWithoutToken(t *testing.T) {
	s := testutil.NewStack(t)

	req, _ := http.NewRequest(http.MethodOptions, s.APIURL+"/todos/1", nil)
	req.Header.Set("Origin", s.URL)
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != s.URL {
		t.Errorf("expected allowed origin %s, got %q", s.URL, got)
	}
	if resp.Header.Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("expected credentials to be allowed")
	}
}

func TestAPI_RateLimited(t *testing.T) {
	s := testutil.NewStack(t, testutil.WithRateLimit(0.001, 2))

	var codes []int
	for range 3 {
		resp := testutil.AuthDo(t, http.MethodGet, s.APIURL+"/todos", "", nil)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}

	if codes[0] != http.StatusUnauthorized || codes[1] != http.StatusUnauthorized {
		t.Errorf("expected the burst to reach authentication, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected 429 once the burst is spent, got %v", codes)
	}
}

func TestAPI_Seeded(t *testing.T) {
	s := testutil.NewStack(t, testutil.WithSeed())
	token := s.AccessToken(t)

	resp := testutil.AuthDo(t, http.MethodGet, s.APIURL+"/todos", token, nil)
	var coll halCollection
	testutil.ReadJSON(t, resp, &coll)

	if len(coll.Embedded.Todos) != len(api.SampleTitles) {
		t.Fatalf("expected %d seeded todos, got %d", len(api.SampleTitles), len(coll.Embedded.Todos))
	}
	for i, todo := range coll.Embedded.Todos {
		if todo.Title != api.SampleTitles[i] {
			t.Errorf("todo %d: expected %q, got %q", i, api.SampleTitles[i], todo.Title)
		}
	}
}
