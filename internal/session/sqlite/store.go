// Package sqlite stores sessions in the shared SQLite database so they
// survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"billing/internal/session"
	"billing/internal/storage"
)

// Store is a session.Store backed by the sessions table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *storage.DB) *Store {
	return &Store{db: db.SQL(), now: time.Now}
}

var _ session.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, sess session.Session) error {
	if sess.ID == "" {
		return errors.New("session id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(id, user_id, email, id_token, refresh_token, token_expires_at, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Email, sess.IDToken, sess.RefreshToken,
		sess.TokenExpiresAt.UnixNano(), sess.CreatedAt.UnixNano(), sess.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	var (
		sess                           session.Session
		tokenExpires, created, expires int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, id_token, refresh_token, token_expires_at, created_at, expires_at
		FROM sessions
		WHERE id = ? AND expires_at > ?`, id, s.now().UnixNano()).
		Scan(&sess.ID, &sess.UserID, &sess.Email, &sess.IDToken, &sess.RefreshToken,
			&tokenExpires, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.TokenExpiresAt = time.Unix(0, tokenExpires)
	sess.CreatedAt = time.Unix(0, created)
	sess.ExpiresAt = time.Unix(0, expires)
	return sess, nil
}

func (s *Store) Update(ctx context.Context, sess session.Session) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET user_id = ?, email = ?, id_token = ?, refresh_token = ?, token_expires_at = ?, expires_at = ?
		WHERE id = ?`,
		sess.UserID, sess.Email, sess.IDToken, sess.RefreshToken,
		sess.TokenExpiresAt.UnixNano(), sess.ExpiresAt.UnixNano(), sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Ping checks the database behind the store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
