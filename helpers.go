package authcore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"

	"github.com/oklog/ulid/v2"
)

// GenerateSecureToken returns 32 random bytes, base64url encoded without padding.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 of an opaque identifier. Stores only
// ever see hashed session ids.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NormalizeHandle lowercases and trims a handle.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// ValidateHandle checks that a normalized handle is a bare email address.
func ValidateHandle(handle string) error {
	if handle == "" {
		return fmt.Errorf("%w: handle is required", ErrInvalidHandle)
	}
	addr, err := mail.ParseAddress(handle)
	if err != nil || addr.Address != handle || !strings.Contains(handle[strings.LastIndex(handle, "@")+1:], ".") {
		return fmt.Errorf("%w: %q is not an email address", ErrInvalidHandle, handle)
	}
	return nil
}

// newAccountID returns a lexically sortable unique id.
func newAccountID() string {
	return ulid.Make().String()
}
