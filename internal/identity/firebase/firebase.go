// Package firebase implements identity.Provider on Firebase Authentication
// through the Identity Toolkit API. Token refresh goes through the Secure
// Token endpoint as a standard OAuth2 refresh grant.
package firebase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"billing/internal/identity"
)

// DefaultTokenURL is the Secure Token refresh endpoint.
const DefaultTokenURL = "https://securetoken.googleapis.com/v1/token"

// Provider signs users in against a Firebase project.
type Provider struct {
	svc        *identitytoolkit.Service
	apiKey     string
	tokenURL   string
	httpClient *http.Client
	now        func() time.Time
}

type settings struct {
	endpoint   string
	tokenURL   string
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*settings)

// WithEndpoint points the Identity Toolkit calls somewhere else, such as the
// Auth emulator.
func WithEndpoint(url string) Option {
	return func(s *settings) { s.endpoint = url }
}

// WithTokenURL overrides the refresh endpoint.
func WithTokenURL(url string) Option {
	return func(s *settings) { s.tokenURL = url }
}

// WithHTTPClient sets the client used for token refresh.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.httpClient = hc }
}

// New creates a provider for the project owning apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("firebase: API key is required")
	}
	s := settings{tokenURL: DefaultTokenURL, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(&s)
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if s.endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(s.endpoint))
	}
	svc, err := identitytoolkit.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: create identity toolkit service: %w", err)
	}

	return &Provider{
		svc:        svc,
		apiKey:     apiKey,
		tokenURL:   s.tokenURL,
		httpClient: s.httpClient,
		now:        time.Now,
	}, nil
}

var _ identity.Provider = (*Provider)(nil)

func (p *Provider) SignUp(ctx context.Context, email, password string) (identity.Token, error) {
	if err := identity.CheckCredentials(email, password); err != nil {
		return identity.Token{}, err
	}
	resp, err := p.svc.Relyingparty.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return identity.Token{}, mapError("sign up", err)
	}
	return p.token(resp.IdToken, resp.RefreshToken, resp.LocalId, resp.Email, resp.ExpiresIn), nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (identity.Token, error) {
	resp, err := p.svc.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             strings.TrimSpace(email),
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return identity.Token{}, mapError("sign in", err)
	}
	return p.token(resp.IdToken, resp.RefreshToken, resp.LocalId, resp.Email, resp.ExpiresIn), nil
}

func (p *Provider) Refresh(ctx context.Context, refreshToken string) (identity.Token, error) {
	if refreshToken == "" {
		return identity.Token{}, identity.ErrInvalidToken
	}
	conf := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.tokenURL + "?key=" + p.apiKey,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return identity.Token{}, fmt.Errorf("refresh: %w: %s", identity.ErrInvalidToken, re.ErrorCode)
		}
		return identity.Token{}, fmt.Errorf("refresh: %w", err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		idToken = tok.AccessToken
	}
	userID, _ := tok.Extra("user_id").(string)
	out := identity.Token{
		IDToken:      idToken,
		RefreshToken: tok.RefreshToken,
		UserID:       userID,
		ExpiresAt:    tok.Expiry,
	}
	if exp := identity.TokenExpiry(idToken); !exp.IsZero() {
		out.ExpiresAt = exp
	}
	return out, nil
}

func (p *Provider) Lookup(ctx context.Context, idToken string) (identity.User, error) {
	resp, err := p.svc.Relyingparty.GetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartyGetAccountInfoRequest{
		IdToken: idToken,
	}).Context(ctx).Do()
	if err != nil {
		return identity.User{}, mapError("lookup", err)
	}
	if len(resp.Users) == 0 {
		return identity.User{}, identity.ErrUserNotFound
	}
	u := resp.Users[0]
	return identity.User{ID: u.LocalId, Email: u.Email}, nil
}

func (p *Provider) DeleteAccount(ctx context.Context, idToken string) error {
	_, err := p.svc.Relyingparty.DeleteAccount(&identitytoolkit.IdentitytoolkitRelyingpartyDeleteAccountRequest{
		IdToken: idToken,
	}).Context(ctx).Do()
	if err != nil {
		return mapError("delete account", err)
	}
	return nil
}

func (p *Provider) token(idToken, refreshToken, userID, email string, expiresIn int64) identity.Token {
	expires := identity.TokenExpiry(idToken)
	if expiresIn > 0 {
		expires = p.now().Add(time.Duration(expiresIn) * time.Second)
	}
	return identity.Token{
		IDToken:      idToken,
		RefreshToken: refreshToken,
		UserID:       userID,
		Email:        email,
		ExpiresAt:    expires,
	}
}

// mapError turns the provider's error codes into identity sentinels. Codes
// arrive as the message, optionally followed by " : detail".
func mapError(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	code := gerr.Message
	if i := strings.Index(code, " "); i > 0 {
		code = code[:i]
	}

	var sentinel error
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED":
		sentinel = identity.ErrInvalidCredentials
	case "EMAIL_EXISTS":
		sentinel = identity.ErrEmailExists
	case "WEAK_PASSWORD", "MISSING_PASSWORD":
		sentinel = identity.ErrWeakPassword
	case "INVALID_EMAIL", "MISSING_EMAIL":
		sentinel = identity.ErrInvalidEmail
	case "INVALID_ID_TOKEN", "TOKEN_EXPIRED", "CREDENTIAL_TOO_OLD_LOGIN_AGAIN":
		sentinel = identity.ErrInvalidToken
	case "USER_NOT_FOUND":
		sentinel = identity.ErrUserNotFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %s", op, sentinel, gerr.Message)
}
