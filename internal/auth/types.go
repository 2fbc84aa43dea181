package auth

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Role is the closed set of cabinet roles.
type Role string

const (
	RoleMedecin    Role = "medecin"
	RoleSecretaire Role = "secretaire"
	RoleAssistant  Role = "assistant"
)

// Roles lists every known role from highest to lowest privilege.
var Roles = []Role{RoleMedecin, RoleSecretaire, RoleAssistant}

// ParseRole maps the wire representation to a Role.
func ParseRole(s string) (Role, error) {
	if r := Role(strings.ToLower(strings.TrimSpace(s))); r.Valid() {
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r Role) Valid() bool { return slices.Contains(Roles, r) }

// IsAdmin reports whether the role may manage other users.
func (r Role) IsAdmin() bool { return r == RoleMedecin }

func (r Role) String() string { return string(r) }

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, string(r))
	}
	return []byte(r), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// User is a credential and identity record.
type User struct {
	ID             string
	Nom            string
	Prenom         string
	Role           Role
	IsActive       bool
	PINHash        string
	FailedAttempts int
	LockedUntil    *time.Time
	LastLogin      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Summary returns the public projection sent to clients.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Nom: u.Nom, Prenom: u.Prenom, Role: u.Role}
}

// LockedAt reports whether the account is locked at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

type UserSummary struct {
	ID     string `json:"id"`
	Nom    string `json:"nom"`
	Prenom string `json:"prenom"`
	Role   Role   `json:"role"`
}

// UserDetails is the administrative listing shape.
type UserDetails struct {
	UserSummary
	IsActive  bool       `json:"is_active"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt time.Time  `json:"created_at"`
}

func (u *User) Details() UserDetails {
	return UserDetails{
		UserSummary: u.Summary(),
		IsActive:    u.IsActive,
		LastLogin:   u.LastLogin,
		CreatedAt:   u.CreatedAt,
	}
}

// UserPatch carries the optional fields of an administrative edit.
type UserPatch struct {
	Nom      *string
	Prenom   *string
	Role     *Role
	IsActive *bool
}

func (p UserPatch) Empty() bool {
	return p.Nom == nil && p.Prenom == nil && p.Role == nil && p.IsActive == nil
}

// Session is a persisted bearer session. Only the token digest is stored.
type Session struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AttemptState is the lockout state after a failed attempt was recorded.
type AttemptState struct {
	Attempts    int
	LockedUntil *time.Time
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      UserSummary
}

// NewUser describes a user to create.
type NewUser struct {
	Nom    string
	Prenom string
	PIN    string
	Role   Role
}
