package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// TokenType distinguishes the JWTs minted by the local provider.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
	TokenTypeCode    TokenType = "code"
)

// LocalClientID is the OAuth2 client ID the local provider accepts.
const LocalClientID = "dolist"

// LocalPathPrefix is where the local provider's endpoints are mounted.
const LocalPathPrefix = "/local"

const codeExpiry = time.Minute

// Claims represents JWT claims for locally issued tokens.
type Claims struct {
	jwt.RegisteredClaims
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name,omitempty"`
	TokenType   TokenType `json:"token_type"`
	RedirectURI string    `json:"redirect_uri,omitempty"`
}

// LocalConfig configures a LocalProvider.
type LocalConfig struct {
	Secret        []byte
	BaseURL       string // where the web client (and so the provider) is reachable
	RedirectURL   string
	CallbackPath  string
	User          string
	Audience      string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// LocalProvider is a development identity provider. Its hosted login
// approves the configured user without prompting, and it signs HS256 JWTs
// that LocalVerifier accepts. The client side still talks to it through
// oauth2.Config, exactly as it would to Auth0 or Okta.
type LocalProvider struct {
	cfg          LocalConfig
	issuer       string
	oauth2Config oauth2.Config
}

// NewLocalProvider validates cfg and returns a provider.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("local: secret must be at least 32 characters")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("local: base URL is required")
	}
	if cfg.User == "" {
		cfg.User = "dev"
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/callback"
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = cfg.BaseURL + cfg.CallbackPath
	}
	if cfg.AccessExpiry <= 0 {
		cfg.AccessExpiry = 15 * time.Minute
	}
	if cfg.RefreshExpiry <= 0 {
		cfg.RefreshExpiry = 24 * time.Hour
	}

	issuer := cfg.BaseURL + LocalPathPrefix
	return &LocalProvider{
		cfg:    cfg,
		issuer: issuer,
		oauth2Config: oauth2.Config{
			ClientID:    LocalClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   issuer + "/authorize",
				TokenURL:  issuer + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}, nil
}

func (p *LocalProvider) Name() string         { return "local" }
func (p *LocalProvider) CallbackPath() string { return p.cfg.CallbackPath }

// AuthCodeURL returns the local authorize endpoint URL.
func (p *LocalProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// Exchange redeems a code at the local token endpoint.
func (p *LocalProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, *Identity, error) {
	tok, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("local: failed to exchange code: %w", err)
	}
	claims, err := p.parse(tok.AccessToken, TokenTypeAccess)
	if err != nil {
		return nil, nil, err
	}
	return tok, &Identity{Subject: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}

// TokenSource returns a refreshing token source for tok.
func (p *LocalProvider) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return p.oauth2Config.TokenSource(ctx, tok)
}

// Handler serves the provider's authorize and token endpoints under
// LocalPathPrefix.
func (p *LocalProvider) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+LocalPathPrefix+"/authorize", p.handleAuthorize)
	mux.HandleFunc("POST "+LocalPathPrefix+"/token", p.handleToken)
	return mux
}

func (p *LocalProvider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	}
	if q.Get("client_id") != LocalClientID {
		http.Error(w, "unauthorized_client", http.StatusBadRequest)
		return
	}
	redirectURI := q.Get("redirect_uri")
	if redirectURI != p.cfg.RedirectURL {
		http.Error(w, "redirect_uri mismatch", http.StatusBadRequest)
		return
	}

	code, err := p.sign(TokenTypeCode, codeExpiry, redirectURI)
	if err != nil {
		slog.Error("local: failed to sign code", "error", err)
		http.Error(w, "server_error", http.StatusInternalServerError)
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	params := target.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	target.RawQuery = params.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// tokenResponse is the RFC 6749 token endpoint response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (p *LocalProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request")
		return
	}
	if r.PostForm.Get("client_id") != LocalClientID {
		tokenError(w, "invalid_client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		claims, err := p.parse(r.PostForm.Get("code"), TokenTypeCode)
		if err != nil || claims.RedirectURI != r.PostForm.Get("redirect_uri") {
			tokenError(w, "invalid_grant")
			return
		}
	case "refresh_token":
		if _, err := p.parse(r.PostForm.Get("refresh_token"), TokenTypeRefresh); err != nil {
			tokenError(w, "invalid_grant")
			return
		}
	default:
		tokenError(w, "unsupported_grant_type")
		return
	}

	access, err := p.sign(TokenTypeAccess, p.cfg.AccessExpiry, "")
	if err != nil {
		slog.Error("local: failed to sign access token", "error", err)
		http.Error(w, "server_error", http.StatusInternalServerError)
		return
	}
	refresh, err := p.sign(TokenTypeRefresh, p.cfg.RefreshExpiry, "")
	if err != nil {
		slog.Error("local: failed to sign refresh token", "error", err)
		http.Error(w, "server_error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.cfg.AccessExpiry.Seconds()),
		RefreshToken: refresh,
	})
}

func tokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// sign mints a token of the given type for the configured user.
func (p *LocalProvider) sign(tokenType TokenType, expiry time.Duration, redirectURI string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    p.issuer,
			Subject:   p.cfg.User,
		},
		Email:       p.cfg.User + "@localhost",
		Name:        p.cfg.User,
		TokenType:   tokenType,
		RedirectURI: redirectURI,
	}
	if tokenType == TokenTypeAccess && p.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{p.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.cfg.Secret)
}

// parse validates a locally issued token of the wanted type.
func (p *LocalProvider) parse(raw string, want TokenType) (*Claims, error) {
	claims, err := parseHS256(raw, p.cfg.Secret, jwt.WithIssuer(p.issuer))
	if err != nil {
		return nil, err
	}
	if claims.TokenType != want {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.TokenType)
	}
	return claims, nil
}

func parseHS256(raw string, secret []byte, opts ...jwt.ParserOption) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// LocalVerifier validates access tokens minted by a LocalProvider sharing
// the same secret.
type LocalVerifier struct {
	secret   []byte
	audience string
}

// NewLocalVerifier returns a verifier for HS256 access tokens. An empty
// audience disables the audience check.
func NewLocalVerifier(secret []byte, audience string) (*LocalVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("local: secret must be at least 32 characters")
	}
	return &LocalVerifier{secret: secret, audience: audience}, nil
}

// Verify checks signature, expiry, audience and token type.
func (v *LocalVerifier) Verify(_ context.Context, rawToken string) (*Identity, error) {
	var opts []jwt.ParserOption
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	claims, err := parseHS256(rawToken, v.secret, opts...)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.TokenType)
	}
	return &Identity{Subject: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}

var (
	_ Provider = (*LocalProvider)(nil)
	_ Verifier = (*LocalVerifier)(nil)
)
