package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"medcabinet.org/internal/auth"
)

var _ auth.SessionStore = (*SessionStore)(nil)

// SessionStore implements auth.SessionStore on the app_sessions table.
type SessionStore struct {
	db *sql.DB
}

func (s *SessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into app_sessions(token_hash, user_id, expires_at, created_at)
		values ($1, $2, $3, $4)
	`, sess.TokenHash, sess.UserID, sess.ExpiresAt, sess.CreatedAt)
	switch pgCode(err) {
	case pgForeignKeyViolation:
		return auth.ErrNotFound
	case pgUniqueViolation:
		return auth.ErrInvalidInput
	}
	return err
}

func (s *SessionStore) Find(ctx context.Context, tokenHash string, now time.Time) (*auth.Session, error) {
	var sess auth.Session
	err := s.db.QueryRowContext(ctx, `
		select token_hash, user_id, expires_at, created_at
		from app_sessions
		where token_hash = $1 and expires_at > $2
	`, tokenHash, now).Scan(&sess.TokenHash, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `delete from app_sessions where token_hash = $1`, tokenHash)
	return err
}

func (s *SessionStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from app_sessions where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
