package firebase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billing/internal/identity"
)

// fakeToolkit answers the Identity Toolkit and Secure Token calls the
// provider makes.
type fakeToolkit struct {
	t        *testing.T
	lastKey  string
	lastBody map[string]any
}

func (f *fakeToolkit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastKey = r.URL.Query().Get("key")
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/token" {
		require.NoError(f.t, r.ParseForm())
		if r.PostForm.Get("refresh_token") != "good-refresh" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"INVALID_REFRESH_TOKEN"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"new-id","id_token":"new-id","refresh_token":"rotated","expires_in":"3600","token_type":"Bearer","user_id":"uid-1"}`))
		return
	}

	f.lastBody = map[string]any{}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastBody))

	fail := func(code string) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"` + code + `","errors":[{"message":"` + code + `","domain":"global","reason":"invalid"}]}}`))
	}

	switch r.URL.Path {
	case "/signupNewUser":
		if f.lastBody["email"] == "taken@gmail.com" {
			fail("EMAIL_EXISTS")
			return
		}
		_, _ = w.Write([]byte(`{"idToken":"id-1","refreshToken":"refresh-1","localId":"uid-1","email":"jane@gmail.com","expiresIn":"3600"}`))
	case "/verifyPassword":
		if f.lastBody["password"] != "secret1" {
			fail("INVALID_LOGIN_CREDENTIALS")
			return
		}
		_, _ = w.Write([]byte(`{"idToken":"id-2","refreshToken":"refresh-2","localId":"uid-1","email":"jane@gmail.com","expiresIn":"3600","registered":true}`))
	case "/getAccountInfo":
		switch f.lastBody["idToken"] {
		case "id-2":
			_, _ = w.Write([]byte(`{"users":[{"localId":"uid-1","email":"jane@gmail.com"}]}`))
		case "orphan":
			_, _ = w.Write([]byte(`{"users":[]}`))
		default:
			fail("INVALID_ID_TOKEN")
		}
	case "/deleteAccount":
		if f.lastBody["idToken"] != "id-2" {
			fail("TOKEN_EXPIRED")
			return
		}
		_, _ = w.Write([]byte(`{"kind":"identitytoolkit#DeleteAccountResponse"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newProvider(t *testing.T) (*Provider, *fakeToolkit) {
	t.Helper()
	fake := &fakeToolkit{t: t}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	p, err := New(context.Background(), "api-key",
		WithEndpoint(srv.URL+"/"),
		WithTokenURL(srv.URL+"/token"),
		WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	return p, fake
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.Error(t, err)
}

func TestSignUp(t *testing.T) {
	p, fake := newProvider(t)
	ctx := context.Background()

	tok, err := p.SignUp(ctx, " jane@gmail.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", tok.IDToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "uid-1", tok.UserID)
	assert.Equal(t, time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC), tok.ExpiresAt)
	assert.Equal(t, "jane@gmail.com", fake.lastBody["email"])
	assert.Equal(t, "api-key", fake.lastKey)

	_, err = p.SignUp(ctx, "taken@gmail.com", "secret1")
	assert.ErrorIs(t, err, identity.ErrEmailExists)

	_, err = p.SignUp(ctx, "jane@gmail.com", "123")
	assert.ErrorIs(t, err, identity.ErrWeakPassword)
}

func TestSignIn(t *testing.T) {
	p, fake := newProvider(t)
	ctx := context.Background()

	tok, err := p.SignIn(ctx, "jane@gmail.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "id-2", tok.IDToken)
	assert.Equal(t, true, fake.lastBody["returnSecureToken"])

	_, err = p.SignIn(ctx, "jane@gmail.com", "nope")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	assert.Equal(t, "Invalid email or password", identity.Message(err))
}

func TestLookupAndDelete(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()

	user, err := p.Lookup(ctx, "id-2")
	require.NoError(t, err)
	assert.Equal(t, identity.User{ID: "uid-1", Email: "jane@gmail.com"}, user)

	_, err = p.Lookup(ctx, "bad")
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
	_, err = p.Lookup(ctx, "orphan")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)

	assert.NoError(t, p.DeleteAccount(ctx, "id-2"))
	assert.ErrorIs(t, p.DeleteAccount(ctx, "stale"), identity.ErrInvalidToken)
}

func TestRefresh(t *testing.T) {
	p, fake := newProvider(t)
	ctx := context.Background()

	tok, err := p.Refresh(ctx, "good-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-id", tok.IDToken)
	assert.Equal(t, "rotated", tok.RefreshToken)
	assert.Equal(t, "uid-1", tok.UserID)
	assert.False(t, tok.ExpiresAt.IsZero())
	assert.Equal(t, "api-key", fake.lastKey)

	_, err = p.Refresh(ctx, "revoked")
	assert.ErrorIs(t, err, identity.ErrInvalidToken)

	_, err = p.Refresh(ctx, "")
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}
