package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/angelofallars/htmx-go"
	"golang.org/x/sync/singleflight"

	"billing/internal/identity"
	"billing/internal/log"
)

const (
	DefaultCookieName  = "billing_session"
	DefaultTTL         = 24 * time.Hour
	DefaultRefreshSkew = time.Minute
	LoginPath          = "/login"

	refreshTimeout = 10 * time.Second
)

type contextKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session placed by Gate.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok
}

// Config configures a Manager.
type Config struct {
	TTL         time.Duration
	Secure      bool
	CookieName  string
	RefreshSkew time.Duration
}

// Manager binds a Store to the session cookie.
type Manager struct {
	store    Store
	provider identity.Provider
	cfg      Config
	logger   *log.Logger
	now      func() time.Time

	refreshes singleflight.Group

	cleanupOnce sync.Once
	stopOnce    sync.Once
	stop        chan struct{}
}

// NewManager creates a manager. provider is used to refresh ID tokens.
func NewManager(store Store, provider identity.Provider, cfg Config, logger *log.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = DefaultRefreshSkew
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Manager{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logger.WithComponent(log.ComponentSession),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// Start creates a session for tok and sets the cookie.
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter, tok identity.Token) (Session, error) {
	now := m.now()
	s := Session{
		ID:             NewID(),
		UserID:         tok.UserID,
		Email:          tok.Email,
		IDToken:        tok.IDToken,
		RefreshToken:   tok.RefreshToken,
		TokenExpiresAt: tok.ExpiresAt,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.TTL),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}

	http.SetCookie(w, m.cookie(s.ID, s.ExpiresAt))
	m.logger.InfoContext(ctx, "Session started",
		log.FieldSessionID, s.ID,
		log.FieldUserID, s.UserID)
	return s, nil
}

// Load resolves the request's cookie to a live session.
func (m *Manager) Load(r *http.Request) (Session, error) {
	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil || c.Value == "" {
		return Session{}, ErrNotFound
	}
	s, err := m.store.Get(r.Context(), c.Value)
	if err != nil {
		return Session{}, err
	}
	if s.Expired(m.now()) {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Destroy deletes the request's session, if any, and clears the cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, m.cookie("", time.Unix(0, 0)))

	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	if err := m.store.Delete(r.Context(), c.Value); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.logger.InfoContext(r.Context(), "Session destroyed", log.FieldSessionID, c.Value)
	return nil
}

func (m *Manager) cookie(value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
	}
	return c
}

// Gate lets a request through only when it carries a live session, which it
// places in the request context. Anyone else is sent to the login view: a
// 303 for full page loads, HX-Redirect for htmx requests. The gate only
// reads the local store.
func (m *Manager) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Load(r)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.logger.ErrorContext(r.Context(), "Session lookup failed", log.FieldError, err)
			}
			RedirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
	})
}

// RedirectToLogin sends the client to the login view.
func RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	if htmx.IsHTMX(r) {
		_ = htmx.NewResponse().Redirect(LoginPath).Write(w)
		return
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

// StartCleanup removes expired sessions every interval until Stop.
func (m *Manager) StartCleanup(interval time.Duration) {
	m.cleanupOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					n, err := m.store.DeleteExpired(ctx, m.now())
					cancel()
					if err != nil {
						m.logger.Warn("Expired session cleanup failed", log.FieldError, err)
					} else if n > 0 {
						m.logger.Debug("Expired sessions removed", log.FieldCount, n)
					}
				case <-m.stop:
					return
				}
			}
		}()
	})
}

// Stop ends the cleanup loop. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
