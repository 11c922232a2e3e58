// Package todos is a client for the remote todo REST API.
//
// Every call fetches a fresh access token from the caller-supplied Session and
// sends it as a bearer credential. A call whose token cannot be obtained is
// never dispatched.
package todos

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Todo is a todo record as exchanged with the remote API.
type Todo struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// fields is the request body for create and update.
type fields struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// collection is the hypermedia envelope the API wraps lists in.
type collection struct {
	Embedded *struct {
		Todos *[]Todo `json:"todos"`
	} `json:"_embedded"`
}

// UnwrapCollection extracts the records from a collection envelope of the
// form {"_embedded":{"todos":[...]}}. An empty or null body is not unwrapped
// and yields a nil slice.
func UnwrapCollection(body []byte) ([]Todo, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var env collection
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Embedded == nil {
		return nil, fmt.Errorf("%w: missing _embedded", ErrMalformedResponse)
	}
	if env.Embedded.Todos == nil {
		return nil, fmt.Errorf("%w: missing _embedded.todos", ErrMalformedResponse)
	}
	return *env.Embedded.Todos, nil
}
