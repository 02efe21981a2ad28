//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	ac "github.com/panyam/authcore"
)

// Datastore kinds
const (
	KindAccount     = "Account"
	KindHandle      = "AccountHandle"
	KindFederatedID = "AccountFederatedID"
	KindSession     = "Session"
	KindHandshake   = "Handshake"
)

// AccountEntity is the Datastore entity for accounts, keyed by account id
type AccountEntity struct {
	Key                 *datastore.Key `datastore:"__key__"`
	Handle              string         `datastore:"handle"`
	PasswordHash        string         `datastore:"password_hash,noindex"`
	FederatedProvider   string         `datastore:"federated_provider"`
	FederatedSubject    string         `datastore:"federated_subject"`
	DisplayName         string         `datastore:"display_name,noindex"`
	AvatarURL           string         `datastore:"avatar_url,noindex"`
	Role                string         `datastore:"role"`
	Active              bool           `datastore:"active"`
	LastAuthenticatedAt time.Time      `datastore:"last_authenticated_at,noindex"`
	CreatedAt           time.Time      `datastore:"created_at"`
	UpdatedAt           time.Time      `datastore:"updated_at"`
	Version             int64          `datastore:"version"`
}

func (e *AccountEntity) ToAccount() *ac.Account {
	a := &ac.Account{
		ID:           e.Key.Name,
		Handle:       e.Handle,
		PasswordHash: e.PasswordHash,
		DisplayName:  e.DisplayName,
		AvatarURL:    e.AvatarURL,
		Role:         ac.Role(e.Role),
		Active:       e.Active,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		Version:      e.Version,
	}
	if e.FederatedSubject != "" {
		a.Federated = &ac.FederatedIdentity{Provider: e.FederatedProvider, Subject: e.FederatedSubject}
	}
	if !e.LastAuthenticatedAt.IsZero() {
		t := e.LastAuthenticatedAt
		a.LastAuthenticatedAt = &t
	}
	return a
}

func AccountToEntity(a *ac.Account, key *datastore.Key) *AccountEntity {
	e := &AccountEntity{
		Key:          key,
		Handle:       a.Handle,
		PasswordHash: a.PasswordHash,
		DisplayName:  a.DisplayName,
		AvatarURL:    a.AvatarURL,
		Role:         string(a.Role),
		Active:       a.Active,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		Version:      a.Version,
	}
	if a.Federated != nil {
		e.FederatedProvider = a.Federated.Provider
		e.FederatedSubject = a.Federated.Subject
	}
	if a.LastAuthenticatedAt != nil {
		e.LastAuthenticatedAt = *a.LastAuthenticatedAt
	}
	return e
}

// IndexEntity claims a unique value (a handle or a federated identity) for an account.
// Key name: the claimed value
type IndexEntity struct {
	AccountID string `datastore:"account_id"`
}

// SessionEntity is the Datastore entity for sessions.
// Key name: SHA-256 of the session id
type SessionEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at,noindex"`
	ExpiresAt time.Time      `datastore:"expires_at"`
}

func (e *SessionEntity) ToSession() *ac.Session {
	return &ac.Session{
		IDHash:    e.Key.Name,
		AccountID: e.AccountID,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}
}

// HandshakeEntity is the Datastore entity for federated handshakes.
// Key name: state
type HandshakeEntity struct {
	Key            *datastore.Key `datastore:"__key__"`
	Provider       string         `datastore:"provider"`
	Scopes         []string       `datastore:"scopes,noindex"`
	RedirectTarget string         `datastore:"redirect_target,noindex"`
	CodeVerifier   string         `datastore:"code_verifier,noindex"`
	CreatedAt      time.Time      `datastore:"created_at,noindex"`
	ExpiresAt      time.Time      `datastore:"expires_at"`
	ConsumedAt     time.Time      `datastore:"consumed_at,noindex"`
}

func (e *HandshakeEntity) ToHandshake() *ac.Handshake {
	h := &ac.Handshake{
		State:          e.Key.Name,
		Provider:       e.Provider,
		Scopes:         e.Scopes,
		RedirectTarget: e.RedirectTarget,
		CodeVerifier:   e.CodeVerifier,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.ExpiresAt,
	}
	if !e.ConsumedAt.IsZero() {
		t := e.ConsumedAt
		h.ConsumedAt = &t
	}
	return h
}

func HandshakeToEntity(h *ac.Handshake, key *datastore.Key) *HandshakeEntity {
	e := &HandshakeEntity{
		Key:            key,
		Provider:       h.Provider,
		Scopes:         h.Scopes,
		RedirectTarget: h.RedirectTarget,
		CodeVerifier:   h.CodeVerifier,
		CreatedAt:      h.CreatedAt,
		ExpiresAt:      h.ExpiresAt,
	}
	if h.ConsumedAt != nil {
		e.ConsumedAt = *h.ConsumedAt
	}
	return e
}
