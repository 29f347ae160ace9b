package session

import (
	"context"
	"fmt"
	"sync"

	"billing/internal/billing"
	"billing/internal/log"
)

// TokenSource hands out the ID token of one session, refreshing it through
// the identity provider when it is about to expire. It satisfies
// billing.TokenSource.
type TokenSource struct {
	m *Manager

	mu   sync.Mutex
	sess Session
}

var _ billing.TokenSource = (*TokenSource)(nil)

// TokenSource returns a token source for s.
func (m *Manager) TokenSource(s Session) *TokenSource {
	return &TokenSource{m: m, sess: s}
}

// Session returns the session as last seen, including refreshed tokens.
func (ts *TokenSource) Session() Session {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.sess
}

func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	sess := ts.Session()
	if sess.ID == "" {
		return "", billing.ErrNoSession
	}
	if !sess.TokenStale(ts.m.now(), ts.m.cfg.RefreshSkew) {
		return sess.IDToken, nil
	}

	refreshed, err := ts.m.refresh(ctx, sess.ID)
	if err != nil {
		return "", err
	}
	ts.mu.Lock()
	ts.sess = refreshed
	ts.mu.Unlock()
	return refreshed.IDToken, nil
}

// refresh renews the ID token of a session. Concurrent refreshes of the same
// session share one provider call.
func (m *Manager) refresh(ctx context.Context, id string) (Session, error) {
	v, err, shared := m.refreshes.Do(id, func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		current, err := m.store.Get(rctx, id)
		if err != nil {
			return Session{}, err
		}
		// Another request may have refreshed it already.
		if !current.TokenStale(m.now(), m.cfg.RefreshSkew) {
			return current, nil
		}
		if m.provider == nil {
			return Session{}, fmt.Errorf("refresh session token: no identity provider")
		}

		tok, err := m.provider.Refresh(rctx, current.RefreshToken)
		if err != nil {
			m.logger.WarnContext(ctx, "Token refresh failed",
				log.FieldSessionID, id,
				log.FieldUserID, current.UserID,
				log.FieldError, err)
			return Session{}, fmt.Errorf("refresh session token: %w", err)
		}

		current.IDToken = tok.IDToken
		if tok.RefreshToken != "" {
			current.RefreshToken = tok.RefreshToken
		}
		current.TokenExpiresAt = tok.ExpiresAt
		if err := m.store.Update(rctx, current); err != nil {
			return Session{}, fmt.Errorf("store refreshed token: %w", err)
		}

		m.logger.DebugContext(ctx, "Session token refreshed",
			log.FieldSessionID, id,
			log.FieldUserID, current.UserID)
		return current, nil
	})
	if err != nil {
		return Session{}, err
	}
	if shared {
		m.logger.DebugContext(ctx, "Token refresh shared", log.FieldSessionID, id)
	}
	return v.(Session), nil
}
