// Package identity talks to the identity provider that owns user accounts
// and issues the bearer tokens the billing API accepts.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailExists        = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password too weak")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserNotFound       = errors.New("user not found")
)

// MinPasswordLength mirrors the provider's own rule.
const MinPasswordLength = 6

// Token is the result of a sign-in, sign-up or refresh.
type Token struct {
	IDToken      string
	RefreshToken string
	UserID       string
	Email        string
	ExpiresAt    time.Time
}

// Expired reports whether the ID token is expired or about to be, given skew.
func (t Token) Expired(now time.Time, skew time.Duration) bool {
	return t.IDToken == "" || !now.Add(skew).Before(t.ExpiresAt)
}

// User is the account behind an ID token.
type User struct {
	ID    string
	Email string
}

// Provider is an identity provider.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (Token, error)
	SignIn(ctx context.Context, email, password string) (Token, error)
	Refresh(ctx context.Context, refreshToken string) (Token, error)
	Lookup(ctx context.Context, idToken string) (User, error)
	DeleteAccount(ctx context.Context, idToken string) error
}

// Message returns the text shown on the login and signup forms for err.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUserNotFound):
		return "Invalid email or password"
	case errors.Is(err, ErrEmailExists):
		return "An account with this email already exists"
	case errors.Is(err, ErrWeakPassword):
		return "Password must be at least 6 characters"
	case errors.Is(err, ErrInvalidEmail):
		return "Enter a valid email address"
	case errors.Is(err, ErrInvalidToken):
		return "Your session has expired, please log in again"
	case errors.Is(err, context.DeadlineExceeded):
		return "The sign-in service did not answer in time, please try again"
	default:
		return "Authentication failed, please try again"
	}
}

// CheckCredentials applies the local checks done before calling a provider.
func CheckCredentials(email, password string) error {
	email = strings.TrimSpace(email)
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// TokenExpiry reads the exp claim of a JWT without verifying it. It returns
// the zero time when the token carries no readable expiry.
func TokenExpiry(idToken string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
