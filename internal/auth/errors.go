package auth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrInvalidPIN    = errors.New("auth: pin must be 4 to 6 digits")
	ErrInvalidRole   = errors.New("auth: invalid role")
	ErrForbidden     = errors.New("auth: forbidden")
	ErrSetupComplete = errors.New("auth: an administrator already exists")
)

// LockedError is returned while an account lock is in effect.
type LockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("auth: account locked for %d more minute(s)", e.Minutes())
}

// Minutes is the remaining lock duration rounded up to whole minutes.
func (e *LockedError) Minutes() int {
	m := int(math.Ceil(e.Remaining.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}

// WrongPINError is returned on a PIN mismatch.
type WrongPINError struct {
	Remaining    int
	Locked       bool
	LockDuration time.Duration
}

func (e *WrongPINError) Error() string {
	if e.Locked {
		return fmt.Sprintf("auth: wrong pin, account locked for %s", e.LockDuration)
	}
	return fmt.Sprintf("auth: wrong pin, %d attempt(s) remaining", e.Remaining)
}
