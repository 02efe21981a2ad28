//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	ac "github.com/panyam/authcore"
)

// StringSlice is a helper type for storing string slices in GORM
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSlice) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported StringSlice source %T", value)
	}
}

// AccountModel is the GORM model for accounts
type AccountModel struct {
	ID                  string  `gorm:"primaryKey;size:64"`
	Handle              string  `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash        string  `gorm:"size:128"`
	FederatedProvider   *string `gorm:"size:32"`
	FederatedSubject    *string `gorm:"size:255"`
	FederatedKey        *string `gorm:"uniqueIndex;size:300"`
	DisplayName         string  `gorm:"size:255"`
	AvatarURL           string  `gorm:"size:1024"`
	Role                string  `gorm:"size:32;not null"`
	Active              bool
	LastAuthenticatedAt *time.Time
	CreatedAt           time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime:false"`
	Version             int64     `gorm:"not null;default:0"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (m *AccountModel) ToAccount() *ac.Account {
	a := &ac.Account{
		ID:                  m.ID,
		Handle:              m.Handle,
		PasswordHash:        m.PasswordHash,
		DisplayName:         m.DisplayName,
		AvatarURL:           m.AvatarURL,
		Role:                ac.Role(m.Role),
		Active:              m.Active,
		LastAuthenticatedAt: m.LastAuthenticatedAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
		Version:             m.Version,
	}
	if m.FederatedProvider != nil && m.FederatedSubject != nil {
		a.Federated = &ac.FederatedIdentity{Provider: *m.FederatedProvider, Subject: *m.FederatedSubject}
	}
	return a
}

func AccountToModel(a *ac.Account) *AccountModel {
	m := &AccountModel{
		ID:                  a.ID,
		Handle:              a.Handle,
		PasswordHash:        a.PasswordHash,
		DisplayName:         a.DisplayName,
		AvatarURL:           a.AvatarURL,
		Role:                string(a.Role),
		Active:              a.Active,
		LastAuthenticatedAt: utcPtr(a.LastAuthenticatedAt),
		CreatedAt:           a.CreatedAt.UTC(),
		UpdatedAt:           a.UpdatedAt.UTC(),
		Version:             a.Version,
	}
	if a.Federated != nil {
		provider, subject, key := a.Federated.Provider, a.Federated.Subject, a.Federated.Key()
		m.FederatedProvider, m.FederatedSubject, m.FederatedKey = &provider, &subject, &key
	}
	return m
}

// SessionModel is the GORM model for sessions. The primary key is the
// SHA-256 of the session id.
type SessionModel struct {
	IDHash    string    `gorm:"primaryKey;size:64"`
	AccountID string    `gorm:"size:64;index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	ExpiresAt time.Time `gorm:"index"`
}

func (SessionModel) TableName() string {
	return "sessions"
}

func (m *SessionModel) ToSession() *ac.Session {
	return &ac.Session{
		IDHash:    m.IDHash,
		AccountID: m.AccountID,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func SessionToModel(s *ac.Session) *SessionModel {
	return &SessionModel{
		IDHash:    s.IDHash,
		AccountID: s.AccountID,
		CreatedAt: s.CreatedAt.UTC(),
		ExpiresAt: s.ExpiresAt.UTC(),
	}
}

// HandshakeModel is the GORM model for pending federated handshakes
type HandshakeModel struct {
	State          string      `gorm:"primaryKey;size:64"`
	Provider       string      `gorm:"size:32;not null"`
	Scopes         StringSlice `gorm:"type:jsonb"`
	RedirectTarget string      `gorm:"size:1024"`
	CodeVerifier   string      `gorm:"size:128"`
	CreatedAt      time.Time   `gorm:"autoCreateTime:false"`
	ExpiresAt      time.Time   `gorm:"index"`
	ConsumedAt     *time.Time
}

func (HandshakeModel) TableName() string {
	return "handshakes"
}

func (m *HandshakeModel) ToHandshake() *ac.Handshake {
	return &ac.Handshake{
		State:          m.State,
		Provider:       m.Provider,
		Scopes:         []string(m.Scopes),
		RedirectTarget: m.RedirectTarget,
		CodeVerifier:   m.CodeVerifier,
		CreatedAt:      m.CreatedAt,
		ExpiresAt:      m.ExpiresAt,
		ConsumedAt:     m.ConsumedAt,
	}
}

func HandshakeToModel(h *ac.Handshake) *HandshakeModel {
	return &HandshakeModel{
		State:          h.State,
		Provider:       h.Provider,
		Scopes:         StringSlice(h.Scopes),
		RedirectTarget: h.RedirectTarget,
		CodeVerifier:   h.CodeVerifier,
		CreatedAt:      h.CreatedAt.UTC(),
		ExpiresAt:      h.ExpiresAt.UTC(),
		ConsumedAt:     utcPtr(h.ConsumedAt),
	}
}
