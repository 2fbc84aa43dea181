package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var pinPattern = regexp.MustCompile(`^\d{4,6}$`)

// ValidatePIN checks the 4 to 6 digit format.
func ValidatePIN(pin string) error {
	if !pinPattern.MatchString(pin) {
		return ErrInvalidPIN
	}
	return nil
}

// PINHasher derives and verifies PIN digests keyed by a server secret.
type PINHasher struct {
	salt []byte
	cost int
}

// NewPINHasher returns a hasher. A cost of zero uses bcrypt.DefaultCost.
func NewPINHasher(salt string, cost int) (*PINHasher, error) {
	if salt == "" {
		return nil, errors.New("auth: pin salt is empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("auth: bcrypt cost out of range")
	}
	return &PINHasher{salt: []byte(salt), cost: cost}, nil
}

func (h *PINHasher) keyed(pin string) []byte {
	mac := hmac.New(sha256.New, h.salt)
	mac.Write([]byte(pin))
	return []byte(hex.EncodeToString(mac.Sum(nil)))
}

// Hash returns a bcrypt digest of the keyed PIN.
func (h *PINHasher) Hash(pin string) (string, error) {
	if err := ValidatePIN(pin); err != nil {
		return "", err
	}
	out, err := bcrypt.GenerateFromPassword(h.keyed(pin), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify compares pin with stored. Legacy rows hold hex(sha256(pin+salt)).
func (h *PINHasher) Verify(stored, pin string) bool {
	if stored == "" {
		return false
	}
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), h.keyed(pin)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(LegacyHash(pin, string(h.salt)))) == 1
}

// LegacyHash is the unkeyed digest used by imported credential rows.
func LegacyHash(pin, salt string) string {
	sum := sha256.Sum256([]byte(pin + salt))
	return hex.EncodeToString(sum[:])
}

// HashToken returns the storage key for a bearer session token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
