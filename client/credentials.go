// Package client talks to an authcore server's HTTP routes from Go programs
// and CLIs. Bearer tokens are kept in a CredentialStore per server and
// attached to outgoing requests.
package client

import (
	"time"
)

// ServerCredential is the bearer token held for one server.
type ServerCredential struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	AccountID   string    `json:"account_id,omitempty"`
	Handle      string    `json:"handle,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsExpired reports whether the token has expired at now.
func (c *ServerCredential) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// CredentialStore keeps credentials keyed by server URL.
type CredentialStore interface {
	// GetCredential returns nil, nil when no credential exists for the server.
	GetCredential(serverURL string) (*ServerCredential, error)
	SetCredential(serverURL string, cred *ServerCredential) error
	RemoveCredential(serverURL string) error
	ListServers() ([]string, error)

	// Save persists pending changes.
	Save() error
}
