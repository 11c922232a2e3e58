package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig configures an OIDCProvider.
type OIDCConfig struct {
	Flavor       string // "auth0" or "okta"
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	CallbackPath string
	Audience     string // API audience; Auth0 only issues JWT access tokens when set
	Scopes       []string
}

// OIDCProvider implements Provider using OpenID Connect.
// It supports any OIDC-compliant provider; the flavor only decides the
// callback route and whether an audience parameter is sent.
type OIDCProvider struct {
	flavor       string
	callbackPath string
	audience     string

	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config oauth2.Config
}

// NewOIDCProvider discovers the issuer and returns a ready provider.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("oidc: issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("oidc: client_id is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("oidc: redirect_url is required")
	}

	// Discover OIDC provider (fetches .well-known/openid-configuration)
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to discover provider at %s: %w", cfg.Issuer, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	callback := cfg.CallbackPath
	if callback == "" {
		callback = "/callback"
	}

	return &OIDCProvider{
		flavor:       cfg.Flavor,
		callbackPath: callback,
		audience:     cfg.Audience,
		provider:     provider,
		verifier:     provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
	}, nil
}

func (p *OIDCProvider) Name() string         { return p.flavor }
func (p *OIDCProvider) CallbackPath() string { return p.callbackPath }

// AuthCodeURL returns the provider's hosted-login URL.
func (p *OIDCProvider) AuthCodeURL(state string) string {
	var opts []oauth2.AuthCodeOption
	if p.audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", p.audience))
	}
	return p.oauth2Config.AuthCodeURL(state, opts...)
}

// Exchange exchanges the authorization code for tokens and verifies the ID token.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, *Identity, error) {
	tok, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("oidc: failed to exchange code: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, nil, ErrMissingIDToken
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("oidc: failed to verify id_token: %w", err)
	}

	var claims struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("oidc: failed to parse claims: %w", err)
	}

	// Prefer the display name, fall back to preferred_username, then email
	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}
	if name == "" {
		name = claims.Email
	}

	return tok, &Identity{Subject: claims.Sub, Email: claims.Email, Name: name}, nil
}

// TokenSource returns a refreshing token source for tok.
func (p *OIDCProvider) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return p.oauth2Config.TokenSource(ctx, tok)
}

// OIDCVerifier validates JWT access tokens issued by an OIDC provider for a
// given API audience.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers issuer and verifies tokens against audience.
func NewOIDCVerifier(ctx context.Context, issuer, audience string) (*OIDCVerifier, error) {
	if audience == "" {
		return nil, fmt.Errorf("oidc: audience is required to verify access tokens")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to discover provider at %s: %w", issuer, err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: audience})}, nil
}

// NewOIDCVerifierWithKeySet builds a verifier from an explicit key set,
// skipping discovery.
func NewOIDCVerifierWithKeySet(issuer, audience string, keySet oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: audience})}
}

// Verify checks signature, issuer, audience and expiry.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Identity{Subject: tok.Subject, Email: claims.Email, Name: claims.Name}, nil
}

var (
	_ Provider = (*OIDCProvider)(nil)
	_ Verifier = (*OIDCVerifier)(nil)
)
