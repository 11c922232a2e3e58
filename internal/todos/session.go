package todos

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// Session supplies the access token for the current identity provider
// session. Implementations may refresh the token; they must fail rather than
// return a stale or empty credential.
type Session interface {
	AccessToken(ctx context.Context) (string, error)
}

// SessionFunc adapts a function to the Session interface.
type SessionFunc func(ctx context.Context) (string, error)

// AccessToken calls f(ctx).
func (f SessionFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// errNoSession is reported when a client has no session attached.
var errNoSession = errors.New("no session")

// FromTokenSource adapts an oauth2.TokenSource. The source is consulted on
// every call, so a refreshing source keeps the client authenticated.
func FromTokenSource(ts oauth2.TokenSource) Session {
	return SessionFunc(func(context.Context) (string, error) {
		tok, err := ts.Token()
		if err != nil {
			return "", err
		}
		if !tok.Valid() {
			return "", errors.New("token expired")
		}
		return tok.AccessToken, nil
	})
}

// StaticToken returns a Session that always yields token.
func StaticToken(token string) Session {
	return FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}
