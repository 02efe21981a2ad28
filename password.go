package authcore

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultPasswordCost is the bcrypt work factor used when none is configured.
const DefaultPasswordCost = 12

// MaxPasswordLength is bcrypt's input limit in bytes.
const MaxPasswordLength = 72

// PasswordHasher hashes and verifies passwords with bcrypt.
// The zero value uses DefaultPasswordCost.
type PasswordHasher struct {
	Cost int
}

func (p *PasswordHasher) cost() int {
	if p == nil || p.Cost == 0 {
		return DefaultPasswordCost
	}
	return p.Cost
}

// Hash returns a salted bcrypt digest of plaintext.
// It fails only when the system entropy source fails or the input exceeds
// bcrypt's 72 byte limit.
func (p *PasswordHasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost())
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. A malformed digest is a mismatch.
func (p *PasswordHasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// NeedsRehash reports whether digest was produced with a lower cost than configured.
func (p *PasswordHasher) NeedsRehash(digest string) bool {
	c, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return false
	}
	return c < p.cost()
}
