// Package identity connects dolist to an OAuth2/OIDC identity provider.
//
// Built-in providers:
//   - oidc: Auth0 or Okta through OpenID Connect discovery
//   - local: a self-contained development provider that signs its own JWTs
//
// The Manager drives the hosted-login handshake and keeps the resulting
// sessions server-side; a Session hands out access tokens, refreshing them
// through the provider when they expire.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rjsadow/dolist/internal/config"
	"golang.org/x/oauth2"
)

// Common errors returned by the identity layer.
var (
	ErrNoSession      = errors.New("identity: no active session")
	ErrTokenExpired   = errors.New("identity: access token expired and cannot be refreshed")
	ErrInvalidState   = errors.New("identity: invalid or unknown state parameter")
	ErrStateExpired   = errors.New("identity: state parameter expired")
	ErrInvalidToken   = errors.New("identity: invalid token")
	ErrMissingIDToken = errors.New("identity: no id_token in token response")
)

// Identity describes the authenticated user.
type Identity struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Provider is an OAuth2 authorization-code identity provider.
type Provider interface {
	// Name returns the provider flavor ("local", "auth0", "okta").
	Name() string

	// CallbackPath is the route the hosted login redirects back to.
	CallbackPath() string

	// AuthCodeURL returns the hosted-login URL carrying state.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for tokens and the user's identity.
	Exchange(ctx context.Context, code string) (*oauth2.Token, *Identity, error)

	// TokenSource returns a source that refreshes tok when it expires.
	TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource
}

// Verifier validates bearer access tokens presented to the resource server.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// NewProvider builds the provider selected by cfg.AuthProvider.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.AuthProvider {
	case config.ProviderAuth0, config.ProviderOkta:
		return NewOIDCProvider(ctx, OIDCConfig{
			Flavor:       cfg.AuthProvider,
			Issuer:       cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.RedirectURL(),
			CallbackPath: cfg.CallbackPath(),
			Audience:     cfg.OIDCAudience,
			Scopes:       cfg.OIDCScopes,
		})
	case config.ProviderLocal:
		return NewLocalProvider(LocalConfig{
			Secret:        []byte(cfg.LocalSecret),
			BaseURL:       cfg.BaseURL(),
			RedirectURL:   cfg.RedirectURL(),
			CallbackPath:  cfg.CallbackPath(),
			User:          cfg.LocalUser,
			Audience:      cfg.OIDCAudience,
			AccessExpiry:  cfg.LocalAccessExpiry,
			RefreshExpiry: cfg.LocalRefreshExpiry,
		})
	default:
		return nil, fmt.Errorf("identity: unsupported provider %q", cfg.AuthProvider)
	}
}

// NewVerifier builds the access-token verifier matching cfg.AuthProvider.
func NewVerifier(ctx context.Context, cfg *config.Config) (Verifier, error) {
	switch cfg.AuthProvider {
	case config.ProviderAuth0, config.ProviderOkta:
		return NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCAudience)
	case config.ProviderLocal:
		return NewLocalVerifier([]byte(cfg.LocalSecret), cfg.OIDCAudience)
	default:
		return nil, fmt.Errorf("identity: unsupported provider %q", cfg.AuthProvider)
	}
}
