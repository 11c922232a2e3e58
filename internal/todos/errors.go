package todos

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTokenAcquisition matches any failure to obtain an access token.
	ErrTokenAcquisition = errors.New("todos: token acquisition failed")

	// ErrTimeout matches network errors caused by the request timeout.
	ErrTimeout = errors.New("todos: request timed out")

	// ErrMalformedResponse is returned when a response body cannot be
	// decoded or lacks the expected envelope.
	ErrMalformedResponse = errors.New("todos: malformed response")
)

// TokenError reports that the session could not supply a credential. No
// request was sent.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("todos: token acquisition failed: %v", e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

func (e *TokenError) Is(target error) bool { return target == ErrTokenAcquisition }

// NetworkError reports that no response was received.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("todos: %s %s: timed out: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("todos: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrTimeout && e.Timeout() }

// Timeout reports whether the request was aborted by its deadline.
func (e *NetworkError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// ServerError is a non-2xx response.
type ServerError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("todos: %s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsUnauthorized reports whether err is a 401 from the API, i.e. the
// resource server no longer accepts the session's token.
func IsUnauthorized(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
