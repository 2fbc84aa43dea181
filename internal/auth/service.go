package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"medcabinet.org/internal/obs"
)

const (
	defaultSessionTTL   = 7 * 24 * time.Hour
	defaultMaxAttempts  = 3
	defaultLockDuration = 15 * time.Minute
)

// Service implements PIN login, session verification and the
// practitioner-gated user administration.
type Service struct {
	users    UserStore
	sessions SessionStore
	hasher   *PINHasher
	now      func() time.Time
	newToken func() string

	sessionTTL   time.Duration
	maxAttempts  int
	lockDuration time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl < 0 {
			return errors.New("auth: negative session ttl")
		}
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithLockout configures how many consecutive failures lock an account and for how long.
func WithLockout(maxAttempts int, d time.Duration) ServiceOption {
	return func(s *Service) error {
		if maxAttempts < 0 || d < 0 {
			return errors.New("auth: invalid lockout policy")
		}
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if d > 0 {
			s.lockDuration = d
		}
		return nil
	}
}

// WithTokenGenerator overrides session token generation.
func WithTokenGenerator(fn func() string) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.newToken = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserStore, sessions SessionStore, hasher *PINHasher, opts ...ServiceOption) (*Service, error) {
	if users == nil || sessions == nil {
		return nil, errors.New("auth: stores are required")
	}
	if hasher == nil {
		return nil, errors.New("auth: pin hasher is required")
	}
	svc := &Service{
		users:        users,
		sessions:     sessions,
		hasher:       hasher,
		now:          func() time.Time { return time.Now().UTC() },
		newToken:     uuid.NewString,
		sessionTTL:   defaultSessionTTL,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockDuration,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// LockDuration returns the configured lockout window.
func (s *Service) LockDuration() time.Duration { return s.lockDuration }

// Login authenticates userID with pin and issues a new session.
func (s *Service) Login(ctx context.Context, userID, pin string) (LoginResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || pin == "" {
		return LoginResult{}, ErrInvalidInput
	}
	if err := ValidatePIN(pin); err != nil {
		return LoginResult{}, err
	}

	u, err := s.users.Find(ctx, userID)
	if err != nil {
		return LoginResult{}, err
	}
	if !u.IsActive {
		return LoginResult{}, ErrNotFound
	}
	now := s.now()
	if u.LockedAt(now) {
		return LoginResult{}, &LockedError{Until: *u.LockedUntil, Remaining: u.LockedUntil.Sub(now)}
	}

	if !s.hasher.Verify(u.PINHash, pin) {
		state, err := s.users.RecordFailedAttempt(ctx, u.ID, s.maxAttempts, now.Add(s.lockDuration))
		if err != nil {
			return LoginResult{}, fmt.Errorf("record failed attempt: %w", err)
		}
		if state.LockedUntil != nil && state.LockedUntil.After(now) {
			obs.Lockout()
			return LoginResult{}, &WrongPINError{Locked: true, LockDuration: s.lockDuration}
		}
		return LoginResult{}, &WrongPINError{Remaining: s.maxAttempts - state.Attempts}
	}

	if n, err := s.sessions.PurgeExpired(ctx, now); err != nil {
		obs.Logger().Warn().Err(err).Msg("purge expired sessions")
	} else if n > 0 {
		obs.SessionsPurged(n)
	}

	token := s.newToken()
	sess := &Session{
		TokenHash: HashToken(token),
		UserID:    u.ID,
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}
	if err := s.users.RecordLogin(ctx, u.ID, now); err != nil {
		return LoginResult{}, fmt.Errorf("record login: %w", err)
	}
	return LoginResult{Token: token, ExpiresAt: sess.ExpiresAt, User: u.Summary()}, nil
}

// Verify resolves a session token to its active owner. It never mutates state.
func (s *Service) Verify(ctx context.Context, token string) (UserSummary, bool, error) {
	if strings.TrimSpace(token) == "" {
		return UserSummary{}, false, ErrInvalidInput
	}
	sess, err := s.sessions.Find(ctx, HashToken(token), s.now())
	if errors.Is(err, ErrNotFound) {
		return UserSummary{}, false, nil
	}
	if err != nil {
		return UserSummary{}, false, err
	}
	u, err := s.users.Find(ctx, sess.UserID)
	if errors.Is(err, ErrNotFound) {
		return UserSummary{}, false, nil
	}
	if err != nil {
		return UserSummary{}, false, err
	}
	if !u.IsActive {
		return UserSummary{}, false, nil
	}
	return u.Summary(), true, nil
}

// Logout deletes the session if present.
func (s *Service) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return s.sessions.Delete(ctx, HashToken(token))
}

// Authorize returns the session owner if it holds the practitioner role.
func (s *Service) Authorize(ctx context.Context, token string) (UserSummary, error) {
	if strings.TrimSpace(token) == "" {
		return UserSummary{}, ErrForbidden
	}
	u, ok, err := s.Verify(ctx, token)
	if err != nil {
		return UserSummary{}, err
	}
	if !ok || !u.Role.IsAdmin() {
		return UserSummary{}, ErrForbidden
	}
	return u, nil
}

func normalizeNames(nom, prenom string) (string, string, error) {
	nom, prenom = strings.TrimSpace(nom), strings.TrimSpace(prenom)
	if nom == "" || prenom == "" {
		return "", "", ErrInvalidInput
	}
	return nom, prenom, nil
}

// CreateUser adds a user on behalf of the practitioner owning creatorToken.
func (s *Service) CreateUser(ctx context.Context, creatorToken string, in NewUser) (UserSummary, error) {
	nom, prenom, err := normalizeNames(in.Nom, in.Prenom)
	if err != nil {
		return UserSummary{}, err
	}
	if err := ValidatePIN(in.PIN); err != nil {
		return UserSummary{}, err
	}
	role := in.Role
	if role == "" {
		role = RoleAssistant
	}
	if !role.Valid() {
		return UserSummary{}, ErrInvalidRole
	}

	if _, err := s.Authorize(ctx, creatorToken); err != nil {
		return UserSummary{}, err
	}

	hash, err := s.hasher.Hash(in.PIN)
	if err != nil {
		return UserSummary{}, err
	}
	now := s.now()
	u := &User{
		Nom:       nom,
		Prenom:    prenom,
		Role:      role,
		IsActive:  true,
		PINHash:   hash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return UserSummary{}, fmt.Errorf("create user: %w", err)
	}
	return u.Summary(), nil
}

// UpdateUser applies a partial patch. PIN and attempt state are untouched.
func (s *Service) UpdateUser(ctx context.Context, creatorToken, userID string, patch UserPatch) (UserSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return UserSummary{}, ErrInvalidInput
	}
	if patch.Nom != nil {
		v := strings.TrimSpace(*patch.Nom)
		if v == "" {
			return UserSummary{}, ErrInvalidInput
		}
		patch.Nom = &v
	}
	if patch.Prenom != nil {
		v := strings.TrimSpace(*patch.Prenom)
		if v == "" {
			return UserSummary{}, ErrInvalidInput
		}
		patch.Prenom = &v
	}
	if patch.Role != nil && !patch.Role.Valid() {
		return UserSummary{}, ErrInvalidRole
	}

	if _, err := s.Authorize(ctx, creatorToken); err != nil {
		return UserSummary{}, err
	}

	if patch.Empty() {
		u, err := s.users.Find(ctx, userID)
		if err != nil {
			return UserSummary{}, err
		}
		return u.Summary(), nil
	}
	u, err := s.users.Update(ctx, userID, patch, s.now())
	if err != nil {
		return UserSummary{}, err
	}
	return u.Summary(), nil
}

// ResetPIN overwrites the PIN of userID and unlocks the account.
func (s *Service) ResetPIN(ctx context.Context, creatorToken, userID, newPIN string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	if err := ValidatePIN(newPIN); err != nil {
		return err
	}
	if _, err := s.Authorize(ctx, creatorToken); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPIN)
	if err != nil {
		return err
	}
	return s.users.SetPINHash(ctx, userID, hash, s.now())
}

// SetupInitialAdmin creates the first practitioner while the store is empty.
func (s *Service) SetupInitialAdmin(ctx context.Context, nom, prenom, pin string) (UserSummary, error) {
	nom, prenom, err := normalizeNames(nom, prenom)
	if err != nil {
		return UserSummary{}, err
	}
	if err := ValidatePIN(pin); err != nil {
		return UserSummary{}, err
	}
	exists, err := s.users.Any(ctx)
	if err != nil {
		return UserSummary{}, err
	}
	if exists {
		return UserSummary{}, ErrSetupComplete
	}
	hash, err := s.hasher.Hash(pin)
	if err != nil {
		return UserSummary{}, err
	}
	now := s.now()
	u := &User{
		Nom:       nom,
		Prenom:    prenom,
		Role:      RoleMedecin,
		IsActive:  true,
		PINHash:   hash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.CreateFirst(ctx, u); err != nil {
		return UserSummary{}, err
	}
	return u.Summary(), nil
}

// NeedsSetup reports whether the credential store is still empty.
func (s *Service) NeedsSetup(ctx context.Context) (bool, error) {
	exists, err := s.users.Any(ctx)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// ActiveUsers lists users selectable on the login screen.
func (s *Service) ActiveUsers(ctx context.Context) ([]UserSummary, error) {
	users, err := s.users.List(ctx, false)
	if err != nil {
		return nil, err
	}
	res := make([]UserSummary, 0, len(users))
	for _, u := range users {
		res = append(res, u.Summary())
	}
	return res, nil
}

// AllUsers lists every user including inactive ones. Practitioner only.
func (s *Service) AllUsers(ctx context.Context, token string) ([]UserDetails, error) {
	if _, err := s.Authorize(ctx, token); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx, true)
	if err != nil {
		return nil, err
	}
	res := make([]UserDetails, 0, len(users))
	for _, u := range users {
		res = append(res, u.Details())
	}
	return res, nil
}
