package billctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"billing/internal/billing"
	"billing/internal/identity"
)

// ErrNotLoggedIn is returned by commands that need a saved session.
var ErrNotLoggedIn = errors.New("not logged in, run 'billctl login' first")

const refreshSkew = time.Minute

// StoredSession is the YAML session file.
type StoredSession struct {
	Email        string    `yaml:"email"`
	UserID       string    `yaml:"user_id"`
	IDToken      string    `yaml:"id_token"`
	RefreshToken string    `yaml:"refresh_token"`
	ExpiresAt    time.Time `yaml:"expires_at"`
}

func storedFrom(tok identity.Token) StoredSession {
	return StoredSession{
		Email:        tok.Email,
		UserID:       tok.UserID,
		IDToken:      tok.IDToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	}
}

func (s StoredSession) token() identity.Token {
	return identity.Token{
		IDToken:      s.IDToken,
		RefreshToken: s.RefreshToken,
		UserID:       s.UserID,
		Email:        s.Email,
		ExpiresAt:    s.ExpiresAt,
	}
}

// DefaultSessionPath is $XDG_CONFIG_HOME/billctl/session.yaml, or the
// platform's user config directory.
func DefaultSessionPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, "billctl", "session.yaml"), nil
}

// SessionFile reads and writes the saved session.
type SessionFile struct {
	path string
}

func NewSessionFile(path string) *SessionFile {
	return &SessionFile{path: path}
}

func (f *SessionFile) Path() string { return f.path }

func (f *SessionFile) Load() (StoredSession, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return StoredSession{}, ErrNotLoggedIn
	}
	if err != nil {
		return StoredSession{}, fmt.Errorf("read session file: %w", err)
	}
	var s StoredSession
	if err := yaml.Unmarshal(data, &s); err != nil {
		return StoredSession{}, fmt.Errorf("parse session file %s: %w", f.path, err)
	}
	if s.IDToken == "" {
		return StoredSession{}, ErrNotLoggedIn
	}
	return s, nil
}

// Save writes the session readable by the owner only.
func (f *SessionFile) Save(s StoredSession) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Remove deletes the session file. A missing file is not an error.
func (f *SessionFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// fileTokens hands out the saved ID token, refreshing it through the identity
// provider and saving the result when it is about to expire.
type fileTokens struct {
	file     *SessionFile
	provider identity.Provider
	now      func() time.Time

	mu   sync.Mutex
	sess StoredSession
}

var _ billing.TokenSource = (*fileTokens)(nil)

func (t *fileTokens) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.sess.token().Expired(t.now(), refreshSkew) {
		return t.sess.IDToken, nil
	}
	if t.sess.RefreshToken == "" || t.provider == nil {
		return "", ErrNotLoggedIn
	}

	tok, err := t.provider.Refresh(ctx, t.sess.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	t.sess.IDToken = tok.IDToken
	t.sess.ExpiresAt = tok.ExpiresAt
	if tok.RefreshToken != "" {
		t.sess.RefreshToken = tok.RefreshToken
	}
	if err := t.file.Save(t.sess); err != nil {
		return "", err
	}
	return t.sess.IDToken, nil
}
