// Package redis stores sessions in Redis with server-side expiry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"medcabinet.org/internal/auth"
)

const defaultPrefix = "medcabinet:session:"

var _ auth.SessionStore = (*SessionStore)(nil)

// SessionStore keeps one JSON value per session token digest.
type SessionStore struct {
	rdb    goredis.UniversalClient
	prefix string
	now    func() time.Time
}

type record struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Option configures SessionStore.
type Option func(*SessionStore)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *SessionStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides the clock used to skip already-expired inserts.
func WithClock(fn func() time.Time) Option {
	return func(s *SessionStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewSessionStore(rdb goredis.UniversalClient, opts ...Option) *SessionStore {
	s := &SessionStore{rdb: rdb, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL and verifies connectivity.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (s *SessionStore) key(tokenHash string) string { return s.prefix + tokenHash }

func (s *SessionStore) Create(ctx context.Context, sess *auth.Session) error {
	if !sess.ExpiresAt.After(s.now()) {
		return nil
	}
	data, err := json.Marshal(record{UserID: sess.UserID, ExpiresAt: sess.ExpiresAt, CreatedAt: sess.CreatedAt})
	if err != nil {
		return err
	}
	// NX and EXAT in one command: the key never exists without its expiry.
	err = s.rdb.SetArgs(ctx, s.key(sess.TokenHash), data, goredis.SetArgs{Mode: "NX", ExpireAt: sess.ExpiresAt}).Err()
	if errors.Is(err, goredis.Nil) {
		return auth.ErrInvalidInput
	}
	return err
}

func (s *SessionStore) Find(ctx context.Context, tokenHash string, now time.Time) (*auth.Session, error) {
	data, err := s.rdb.Get(ctx, s.key(tokenHash)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !rec.ExpiresAt.After(now) {
		return nil, auth.ErrNotFound
	}
	return &auth.Session{TokenHash: tokenHash, UserID: rec.UserID, ExpiresAt: rec.ExpiresAt, CreatedAt: rec.CreatedAt}, nil
}

func (s *SessionStore) Delete(ctx context.Context, tokenHash string) error {
	return s.rdb.Del(ctx, s.key(tokenHash)).Err()
}

// PurgeExpired is a no-op: keys carry their own expiry.
func (s *SessionStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
