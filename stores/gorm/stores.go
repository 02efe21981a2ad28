//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	ac "github.com/panyam/authcore"
)

// AutoMigrate runs database migrations for all authcore tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&SessionModel{},
		&HandshakeModel{},
	)
}

// isDuplicate reports a unique constraint violation. Drivers that do not
// translate errors (gorm.Config.TranslateError) are matched by message.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") || strings.Contains(msg, "duplicate entry")
}

// =============================================================================
// AccountStore
// =============================================================================

// AccountStore implements ac.AccountStore using GORM. Handle and federated
// identity uniqueness are enforced by unique indexes.
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) CreateAccount(ctx context.Context, account *ac.Account) error {
	model := AccountToModel(account)
	err := s.db.WithContext(ctx).Create(model).Error
	if isDuplicate(err) {
		if model.FederatedKey != nil {
			var n int64
			s.db.WithContext(ctx).Model(&AccountModel{}).Where("federated_key = ?", *model.FederatedKey).Count(&n)
			if n > 0 {
				return ac.ErrFederatedIDExists
			}
		}
		return ac.ErrConflict
	}
	return err
}

func (s *AccountStore) first(ctx context.Context, query string, args ...any) (*ac.Account, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ac.ErrAccountNotFound
		}
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*ac.Account, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *AccountStore) GetAccountByHandle(ctx context.Context, handle string) (*ac.Account, error) {
	return s.first(ctx, "handle = ?", handle)
}

func (s *AccountStore) GetAccountByFederatedID(ctx context.Context, provider, subject string) (*ac.Account, error) {
	key := ac.FederatedIdentity{Provider: provider, Subject: subject}.Key()
	return s.first(ctx, "federated_key = ?", key)
}

// UpdateAccount is a conditional UPDATE on (id, version).
func (s *AccountStore) UpdateAccount(ctx context.Context, account *ac.Account) error {
	model := AccountToModel(account)
	res := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]any{
			"password_hash":         model.PasswordHash,
			"federated_provider":    model.FederatedProvider,
			"federated_subject":     model.FederatedSubject,
			"federated_key":         model.FederatedKey,
			"display_name":          model.DisplayName,
			"avatar_url":            model.AvatarURL,
			"role":                  model.Role,
			"active":                model.Active,
			"last_authenticated_at": model.LastAuthenticatedAt,
			"updated_at":            model.UpdatedAt,
			"version":               account.Version + 1,
		})
	if isDuplicate(res.Error) {
		return ac.ErrFederatedIDExists
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetAccountByID(ctx, account.ID); err != nil {
			return err
		}
		return ac.ErrStaleAccount
	}
	account.Version++
	return nil
}

// =============================================================================
// SessionStore
// =============================================================================

// SessionStore implements ac.SessionStore using GORM
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *ac.Session) error {
	err := s.db.WithContext(ctx).Create(SessionToModel(session)).Error
	if isDuplicate(err) {
		return ac.ErrSessionExists
	}
	return err
}

func (s *SessionStore) GetSession(ctx context.Context, idHash string) (*ac.Session, error) {
	var model SessionModel
	if err := s.db.WithContext(ctx).First(&model, "id_hash = ?", idHash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ac.ErrSessionNotFound
		}
		return nil, err
	}
	return model.ToSession(), nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, idHash string) error {
	return s.db.WithContext(ctx).Delete(&SessionModel{}, "id_hash = ?", idHash).Error
}

func (s *SessionStore) DeleteAccountSessions(ctx context.Context, accountID string) error {
	return s.db.WithContext(ctx).Delete(&SessionModel{}, "account_id = ?", accountID).Error
}

func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	return s.db.WithContext(ctx).Delete(&SessionModel{}, "expires_at <= ?", now.UTC()).Error
}

// =============================================================================
// HandshakeStore
// =============================================================================

// HandshakeStore implements ac.HandshakeStore using GORM. Consumed rows are
// kept until they expire so replays can be told apart from unknown states.
type HandshakeStore struct {
	db *gorm.DB
}

func NewHandshakeStore(db *gorm.DB) *HandshakeStore {
	return &HandshakeStore{db: db}
}

func (s *HandshakeStore) SaveHandshake(ctx context.Context, h *ac.Handshake) error {
	err := s.db.WithContext(ctx).Create(HandshakeToModel(h)).Error
	if isDuplicate(err) {
		return ac.ErrHandshakeExists
	}
	return err
}

func (s *HandshakeStore) ConsumeHandshake(ctx context.Context, state string, now time.Time) (*ac.Handshake, error) {
	now = now.UTC()
	res := s.db.WithContext(ctx).Model(&HandshakeModel{}).
		Where("state = ? AND consumed_at IS NULL AND expires_at > ?", state, now).
		Update("consumed_at", now)
	if res.Error != nil {
		return nil, res.Error
	}

	var model HandshakeModel
	if err := s.db.WithContext(ctx).First(&model, "state = ?", state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ac.ErrStateMismatch
		}
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, ac.ErrExpired
	}
	return model.ToHandshake(), nil
}

func (s *HandshakeStore) DeleteExpiredHandshakes(ctx context.Context, now time.Time) error {
	return s.db.WithContext(ctx).Delete(&HandshakeModel{}, "expires_at <= ?", now.UTC()).Error
}
