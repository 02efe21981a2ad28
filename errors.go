package authcore

import (
	"errors"
	"fmt"
)

// Errors returned by the core. All of them are recoverable by the caller;
// compare with errors.Is since most are returned wrapped.
var (
	// ErrConflict is returned when a handle (or a federated identity) is
	// already bound to another account.
	ErrConflict = errors.New("account already exists")

	// ErrWeakCredential is returned when a password violates the length policy.
	ErrWeakCredential = errors.New("password does not meet policy")

	// ErrInvalidHandle is returned when a handle is empty or not an email address.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrInvalidCredential is the single login failure. It is returned as-is
	// (never wrapped) for unknown handles, inactive accounts and bad passwords.
	ErrInvalidCredential = errors.New("invalid credentials")

	// ErrInvalid is the parent of every malformed/expired proof error.
	ErrInvalid = errors.New("invalid")

	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = fmt.Errorf("%w token", ErrInvalid)

	// ErrInvalidSession is returned when a session id is absent or expired.
	ErrInvalidSession = fmt.Errorf("%w session", ErrInvalid)

	// ErrStateMismatch is returned when a federated callback carries a state
	// that was never issued (or was issued for another provider).
	ErrStateMismatch = errors.New("oauth state mismatch")

	// ErrExpired is returned when a handshake was already consumed or timed out.
	ErrExpired = errors.New("oauth handshake expired")

	// ErrProviderError wraps any failure of the external identity provider.
	ErrProviderError = errors.New("identity provider error")

	// ErrUnauthenticated is returned when a role-gated operation has no account.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrForbidden is returned when the account's role is insufficient.
	ErrForbidden = errors.New("forbidden")

	// ErrUnknownProvider is returned when no federated provider has the given name.
	ErrUnknownProvider = errors.New("unknown identity provider")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// Store level errors.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrStaleAccount      = errors.New("account was modified concurrently")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already exists")
	ErrHandshakeExists   = errors.New("handshake already exists")
	ErrFederatedIDExists = fmt.Errorf("%w: federated identity already linked", ErrConflict)
)

func providerError(err error) error {
	return fmt.Errorf("%w: %w", ErrProviderError, err)
}
