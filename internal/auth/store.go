package auth

import (
	"context"
	"time"
)

// UserStore persists credential records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	// CreateFirst inserts u only if no user exists yet, returning
	// ErrSetupComplete otherwise. It must be atomic.
	CreateFirst(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// List returns active users ordered by prenom, or every user ordered by
	// creation time when includeInactive is set.
	List(ctx context.Context, includeInactive bool) ([]*User, error)
	Any(ctx context.Context) (bool, error)
	Update(ctx context.Context, id string, patch UserPatch, at time.Time) (*User, error)
	// SetPINHash overwrites the PIN digest and clears attempts and lock.
	SetPINHash(ctx context.Context, id, hash string, at time.Time) error
	// RecordFailedAttempt increments the attempt counter in one atomic step.
	// When the counter reaches maxAttempts it is reset to zero and
	// locked_until is set to lockUntil.
	RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (AttemptState, error)
	// RecordLogin clears attempts and lock and stamps last_login.
	RecordLogin(ctx context.Context, id string, at time.Time) error
}

// SessionStore persists issued sessions keyed by token digest.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	// Find returns the session only while expires_at is after now.
	Find(ctx context.Context, tokenHash string, now time.Time) (*Session, error)
	Delete(ctx context.Context, tokenHash string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
