package todos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds each request when Config.Timeout is zero.
const DefaultTimeout = 2 * time.Second

// maxBodySize caps how much of a response body is read.
const maxBodySize = 4 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the API root; todos live under BaseURL/todos.
	BaseURL string
	// Timeout bounds each HTTP request. Token acquisition is not included.
	Timeout time.Duration
	// HTTPClient is shared by all clients built from this config.
	// Defaults to a new http.Client.
	HTTPClient *http.Client
	UserAgent  string
	Logger     *slog.Logger
}

// Client performs authenticated CRUD calls against the todo API.
// A Client holds no mutable state and is safe for concurrent use.
type Client struct {
	session   Session
	baseURL   *url.URL
	timeout   time.Duration
	http      *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewClient creates a client that authenticates every call with a token
// from session. session may be nil when the client only serves as a template
// for WithSession.
func NewClient(session Session, cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("todos: invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("todos: base URL must be absolute http(s), got %q", cfg.BaseURL)
	}

	c := &Client{
		session:   session,
		baseURL:   u,
		timeout:   cfg.Timeout,
		http:      cfg.HTTPClient,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.userAgent == "" {
		c.userAgent = "dolist"
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// WithSession returns a copy of c bound to a different session.
func (c *Client) WithSession(session Session) *Client {
	cp := *c
	cp.session = session
	return &cp
}

// Create adds a todo and returns the record with its server-assigned ID.
func (c *Client) Create(ctx context.Context, title string, completed bool) (*Todo, error) {
	body, err := c.do(ctx, http.MethodPost, c.collectionURL(), fields{Title: title, Completed: completed})
	if err != nil {
		return nil, err
	}
	return decodeTodo(body)
}

// List returns every todo, unwrapped from the collection envelope.
func (c *Client) List(ctx context.Context) ([]Todo, error) {
	body, err := c.do(ctx, http.MethodGet, c.collectionURL(), nil)
	if err != nil {
		return nil, err
	}
	return UnwrapCollection(body)
}

// Get returns a single todo.
func (c *Client) Get(ctx context.Context, id int64) (*Todo, error) {
	body, err := c.do(ctx, http.MethodGet, c.itemURL(id), nil)
	if err != nil {
		return nil, err
	}
	return decodeTodo(body)
}

// Update replaces the title and completion state of a todo.
func (c *Client) Update(ctx context.Context, id int64, title string, completed bool) (*Todo, error) {
	body, err := c.do(ctx, http.MethodPut, c.itemURL(id), fields{Title: title, Completed: completed})
	if err != nil {
		return nil, err
	}
	return decodeTodo(body)
}

// Remove deletes a todo.
func (c *Client) Remove(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, c.itemURL(id), nil)
	return err
}

func (c *Client) collectionURL() string {
	return c.baseURL.JoinPath("todos").String()
}

func (c *Client) itemURL(id int64) string {
	return c.baseURL.JoinPath("todos", strconv.FormatInt(id, 10)).String()
}

// token fetches the bearer credential for one call.
func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	if c.session == nil {
		return nil, &TokenError{Err: errNoSession}
	}
	access, err := c.session.AccessToken(ctx)
	if err != nil {
		return nil, &TokenError{Err: err}
	}
	if access == "" {
		return nil, &TokenError{Err: errors.New("empty access token")}
	}
	return &oauth2.Token{AccessToken: access, TokenType: "Bearer"}, nil
}

// do sends one authenticated request and returns the response body of a
// 2xx response.
func (c *Client) do(ctx context.Context, method, target string, payload any) ([]byte, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("todos: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("todos: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/hal+json, application/json")
	req.Header.Set("User-Agent", c.userAgent)
	tok.SetAuthHeader(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("todo api request failed", "method", method, "url", target, "error", err)
		return nil, &NetworkError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &NetworkError{Method: method, URL: target, Err: err}
	}

	c.logger.Debug("todo api request",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServerError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: data}
	}
	return data, nil
}

func decodeTodo(body []byte) (*Todo, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	var t Todo
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &t, nil
}
