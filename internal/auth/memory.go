package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"medcabinet.org/internal/ids"
)

var (
	_ UserStore    = (*MemoryUserStore)(nil)
	_ SessionStore = (*MemorySessionStore)(nil)
)

// MemoryUserStore keeps users in process memory.
type MemoryUserStore struct {
	mu    sync.Mutex
	order []string
	users map[string]*User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*User)}
}

func cloneUser(u *User) *User {
	c := *u
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

func (s *MemoryUserStore) insert(u *User) {
	if u.ID == "" {
		u.ID = ids.New()
	}
	s.users[u.ID] = cloneUser(u)
	s.order = append(s.order, u.ID)
}

func (s *MemoryUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID != "" {
		if _, ok := s.users[u.ID]; ok {
			return ErrInvalidInput
		}
	}
	s.insert(u)
	return nil
}

func (s *MemoryUserStore) CreateFirst(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.users) > 0 {
		return ErrSetupComplete
	}
	s.insert(u)
	return nil
}

func (s *MemoryUserStore) Find(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryUserStore) List(_ context.Context, includeInactive bool) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*User, 0, len(s.order))
	for _, id := range s.order {
		u := s.users[id]
		if !includeInactive && !u.IsActive {
			continue
		}
		res = append(res, cloneUser(u))
	}
	if includeInactive {
		sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	} else {
		sort.SliceStable(res, func(i, j int) bool { return res[i].Prenom < res[j].Prenom })
	}
	return res, nil
}

func (s *MemoryUserStore) Any(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users) > 0, nil
}

func (s *MemoryUserStore) Update(_ context.Context, id string, patch UserPatch, at time.Time) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Nom != nil {
		u.Nom = *patch.Nom
	}
	if patch.Prenom != nil {
		u.Prenom = *patch.Prenom
	}
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	if patch.IsActive != nil {
		u.IsActive = *patch.IsActive
	}
	u.UpdatedAt = at
	return cloneUser(u), nil
}

func (s *MemoryUserStore) SetPINHash(_ context.Context, id, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PINHash = hash
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.UpdatedAt = at
	return nil
}

func (s *MemoryUserStore) RecordFailedAttempt(_ context.Context, id string, maxAttempts int, lockUntil time.Time) (AttemptState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return AttemptState{}, ErrNotFound
	}
	u.FailedAttempts++
	if u.FailedAttempts >= maxAttempts {
		u.FailedAttempts = 0
		t := lockUntil
		u.LockedUntil = &t
	}
	state := AttemptState{Attempts: u.FailedAttempts}
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		state.LockedUntil = &t
	}
	return state, nil
}

func (s *MemoryUserStore) RecordLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.FailedAttempts = 0
	u.LockedUntil = nil
	t := at
	u.LastLogin = &t
	u.UpdatedAt = at
	return nil
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (s *MemorySessionStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.TokenHash]; ok {
		return ErrInvalidInput
	}
	s.sessions[sess.TokenHash] = *sess
	return nil
}

func (s *MemorySessionStore) Find(_ context.Context, tokenHash string, now time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tokenHash]
	if !ok || !sess.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

func (s *MemorySessionStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored sessions, expired ones included.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
