package authcore

import (
	"context"
	"errors"
	"time"
)

// Role is the two-tier authorization level of an account.
type Role string

const (
	RoleOrdinary       Role = "ordinary"
	RoleAdministrative Role = "administrative"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleOrdinary || r == RoleAdministrative
}

// FederatedIdentity is the identifier an external provider asserted for an account.
type FederatedIdentity struct {
	Provider string `json:"provider"` // "google", "github"
	Subject  string `json:"subject"`  // provider's stable user id
}

// Key returns "provider:subject", used by stores as a unique index value.
func (f FederatedIdentity) Key() string {
	return f.Provider + ":" + f.Subject
}

// CredentialKind tags how an account can prove its identity.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialLocal
	CredentialFederated
	CredentialBoth
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialLocal:
		return "local"
	case CredentialFederated:
		return "federated"
	case CredentialBoth:
		return "both"
	default:
		return "none"
	}
}

// Account is the identity record held by the AccountStore, one per handle.
type Account struct {
	ID                  string             `json:"id"`
	Handle              string             `json:"handle"`
	PasswordHash        string             `json:"password_hash,omitempty"`
	Federated           *FederatedIdentity `json:"federated,omitempty"`
	DisplayName         string             `json:"display_name"`
	AvatarURL           string             `json:"avatar_url,omitempty"`
	Role                Role               `json:"role"`
	Active              bool               `json:"active"`
	LastAuthenticatedAt *time.Time         `json:"last_authenticated_at,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`

	// Version is bumped by the store on every successful update.
	Version int64 `json:"version"`
}

// Credentials returns the tagged credential shape of the account.
func (a *Account) Credentials() CredentialKind {
	local := a.PasswordHash != ""
	federated := a.Federated != nil && a.Federated.Subject != ""
	switch {
	case local && federated:
		return CredentialBoth
	case local:
		return CredentialLocal
	case federated:
		return CredentialFederated
	default:
		return CredentialNone
	}
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Federated != nil {
		f := *a.Federated
		out.Federated = &f
	}
	if a.LastAuthenticatedAt != nil {
		t := *a.LastAuthenticatedAt
		out.LastAuthenticatedAt = &t
	}
	return &out
}

// Profile carries the optional, non-credential fields supplied at registration.
type Profile struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Session is a server-side login. Only the SHA-256 of the session id is stored.
type Session struct {
	IDHash    string    `json:"id_hash"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the session is past its expiry at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Handshake is the transient state of one federated login round trip.
type Handshake struct {
	State          string     `json:"state"`
	Provider       string     `json:"provider"`
	Scopes         []string   `json:"scopes,omitempty"`
	RedirectTarget string     `json:"redirect_target"`
	CodeVerifier   string     `json:"code_verifier"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ConsumedAt     *time.Time `json:"consumed_at,omitempty"`
}

// AccountStore persists accounts.
type AccountStore interface {
	// CreateAccount atomically inserts a new account. It returns ErrConflict
	// when the handle or the federated identity is already taken.
	CreateAccount(ctx context.Context, account *Account) error

	// GetAccountByID returns ErrAccountNotFound when absent.
	GetAccountByID(ctx context.Context, id string) (*Account, error)

	// GetAccountByHandle looks up by normalized handle.
	GetAccountByHandle(ctx context.Context, handle string) (*Account, error)

	// GetAccountByFederatedID looks up by provider identity.
	GetAccountByFederatedID(ctx context.Context, provider, subject string) (*Account, error)

	// UpdateAccount replaces a stored account if its Version still matches
	// the stored one (ErrStaleAccount otherwise) and then increments
	// account.Version. The handle is immutable. A newly set federated identity
	// is claimed atomically with the update (ErrFederatedIDExists if taken).
	UpdateAccount(ctx context.Context, account *Account) error
}

// SessionStore is the session table, keyed by Session.IDHash.
type SessionStore interface {
	// CreateSession atomically inserts; ErrSessionExists on a key collision.
	CreateSession(ctx context.Context, session *Session) error

	// GetSession returns ErrSessionNotFound when absent.
	GetSession(ctx context.Context, idHash string) (*Session, error)

	// DeleteSession is idempotent.
	DeleteSession(ctx context.Context, idHash string) error

	// DeleteAccountSessions removes every session of an account.
	DeleteAccountSessions(ctx context.Context, accountID string) error

	// DeleteExpiredSessions removes sessions that expired before now.
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
}

// HandshakeStore holds pending federated handshakes.
type HandshakeStore interface {
	// SaveHandshake inserts a pending handshake; ErrHandshakeExists on collision.
	SaveHandshake(ctx context.Context, h *Handshake) error

	// ConsumeHandshake atomically marks the handshake consumed and returns it.
	// Unknown states yield ErrStateMismatch; consumed or expired ones ErrExpired.
	// Among concurrent callers at most one succeeds.
	ConsumeHandshake(ctx context.Context, state string, now time.Time) (*Handshake, error)

	// DeleteExpiredHandshakes drops handshakes (and tombstones) past expiry.
	DeleteExpiredHandshakes(ctx context.Context, now time.Time) error
}

const maxUpdateAttempts = 5

// ModifyAccount loads the account, applies fn and writes it back, retrying
// when a concurrent writer got there first. fn may be called more than once.
func ModifyAccount(ctx context.Context, store AccountStore, id string, fn func(*Account) error) (*Account, error) {
	for range maxUpdateAttempts {
		account, err := store.GetAccountByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(account); err != nil {
			return nil, err
		}
		err = store.UpdateAccount(ctx, account)
		if errors.Is(err, ErrStaleAccount) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return account, nil
	}
	return nil, ErrStaleAccount
}
