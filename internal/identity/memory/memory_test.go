package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"billing/internal/identity"
)

func newProvider(opts ...Option) *Provider {
	return New("test-key", append([]Option{WithBcryptCost(bcrypt.MinCost)}, opts...)...)
}

func TestSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	p := newProvider()

	tok, err := p.SignUp(ctx, "Jane@gmail.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.IDToken)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.NotEmpty(t, tok.UserID)
	assert.Equal(t, "Jane@gmail.com", tok.Email)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), tok.ExpiresAt, 5*time.Second)
	assert.Equal(t, tok.ExpiresAt.Unix(), identity.TokenExpiry(tok.IDToken).Unix())

	_, err = p.SignUp(ctx, "jane@gmail.com", "another1")
	assert.ErrorIs(t, err, identity.ErrEmailExists)

	signedIn, err := p.SignIn(ctx, "jane@gmail.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, tok.UserID, signedIn.UserID)
	assert.NotEqual(t, tok.RefreshToken, signedIn.RefreshToken)

	_, err = p.SignIn(ctx, "jane@gmail.com", "wrong")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	_, err = p.SignIn(ctx, "nobody@gmail.com", "secret1")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
}

func TestSignUpRejectsBadInput(t *testing.T) {
	p := newProvider()
	_, err := p.SignUp(context.Background(), "not-an-email", "secret1")
	assert.ErrorIs(t, err, identity.ErrInvalidEmail)
	_, err = p.SignUp(context.Background(), "jane@gmail.com", "123")
	assert.ErrorIs(t, err, identity.ErrWeakPassword)
	assert.Zero(t, p.Len())
}

func TestLookupAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newProvider(WithClock(func() time.Time { return now }), WithTokenTTL(time.Minute))

	tok, err := p.SignUp(ctx, "jane@gmail.com", "secret1")
	require.NoError(t, err)

	user, err := p.Lookup(ctx, tok.IDToken)
	require.NoError(t, err)
	assert.Equal(t, identity.User{ID: tok.UserID, Email: "jane@gmail.com"}, user)

	_, err = p.Lookup(ctx, "garbage")
	assert.ErrorIs(t, err, identity.ErrInvalidToken)

	other := New("other-key", WithBcryptCost(bcrypt.MinCost))
	_, err = other.Lookup(ctx, tok.IDToken)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)

	now = now.Add(2 * time.Minute)
	_, err = p.Lookup(ctx, tok.IDToken)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)

	refreshed, err := p.Refresh(ctx, tok.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, tok.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, now.Add(time.Minute), refreshed.ExpiresAt)
	_, err = p.Lookup(ctx, refreshed.IDToken)
	assert.NoError(t, err)

	_, err = p.Refresh(ctx, "unknown")
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	p := newProvider()

	tok, err := p.SignUp(ctx, "jane@gmail.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, p.DeleteAccount(ctx, tok.IDToken))
	assert.Zero(t, p.Len())

	_, err = p.SignIn(ctx, "jane@gmail.com", "secret1")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	_, err = p.Refresh(ctx, tok.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
	assert.ErrorIs(t, p.DeleteAccount(ctx, tok.IDToken), identity.ErrUserNotFound)

	// The address can be registered again.
	_, err = p.SignUp(ctx, "jane@gmail.com", "secret1")
	assert.NoError(t, err)
}

func TestConcurrentSignUp(t *testing.T) {
	p := newProvider()
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.SignUp(context.Background(), "same@gmail.com", "secret1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, identity.ErrEmailExists)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, p.Len())
}
