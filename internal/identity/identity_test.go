package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInvalidCredentials, "Invalid email or password"},
		{fmt.Errorf("sign in: %w", ErrUserNotFound), "Invalid email or password"},
		{ErrEmailExists, "An account with this email already exists"},
		{ErrWeakPassword, "Password must be at least 6 characters"},
		{ErrInvalidEmail, "Enter a valid email address"},
		{context.DeadlineExceeded, "The sign-in service did not answer in time, please try again"},
		{fmt.Errorf("boom"), "Authentication failed, please try again"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Message(tt.err))
	}
}

func TestCheckCredentials(t *testing.T) {
	assert.NoError(t, CheckCredentials("jane@gmail.com", "secret"))
	assert.NoError(t, CheckCredentials("  jane@gmail.com ", "secret"))
	assert.ErrorIs(t, CheckCredentials("", "secret"), ErrInvalidEmail)
	assert.ErrorIs(t, CheckCredentials("@gmail.com", "secret"), ErrInvalidEmail)
	assert.ErrorIs(t, CheckCredentials("jane@", "secret"), ErrInvalidEmail)
	assert.ErrorIs(t, CheckCredentials("ja ne@gmail.com", "secret"), ErrInvalidEmail)
	assert.ErrorIs(t, CheckCredentials("jane@gmail.com", "12345"), ErrWeakPassword)
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := Token{IDToken: "x", ExpiresAt: now.Add(5 * time.Minute)}

	assert.False(t, tok.Expired(now, time.Minute))
	assert.True(t, tok.Expired(now.Add(4*time.Minute), time.Minute))
	assert.True(t, tok.Expired(now.Add(10*time.Minute), 0))
	assert.True(t, Token{}.Expired(now, 0))
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	assert.True(t, exp.Equal(TokenExpiry(signed)))
	assert.True(t, TokenExpiry("not-a-jwt").IsZero())

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u"}).SignedString([]byte("k"))
	require.NoError(t, err)
	assert.True(t, TokenExpiry(noExp).IsZero())
}
