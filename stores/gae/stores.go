//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	ac "github.com/panyam/authcore"
)

type base struct {
	client    *datastore.Client
	namespace string
}

func (s *base) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *base) query(kind string) *datastore.Query {
	q := datastore.NewQuery(kind)
	if s.namespace != "" {
		q = q.Namespace(s.namespace)
	}
	return q
}

// ============================================================================
// AccountStore
// ============================================================================

// AccountStore implements ac.AccountStore using Google Cloud Datastore.
// Handles and federated identities are claimed through index entities
// written in the same transaction as the account.
type AccountStore struct {
	base
}

// NewAccountStore creates a new Datastore-backed AccountStore
func NewAccountStore(client *datastore.Client, namespace string) *AccountStore {
	return &AccountStore{base{client: client, namespace: namespace}}
}

// claim writes an index entity for name unless one exists for another account.
func claim(tx *datastore.Transaction, key *datastore.Key, accountID string, taken error) error {
	var idx IndexEntity
	err := tx.Get(key, &idx)
	switch {
	case err == nil:
		if idx.AccountID != accountID {
			return taken
		}
		return nil
	case errors.Is(err, datastore.ErrNoSuchEntity):
		_, err = tx.Put(key, &IndexEntity{AccountID: accountID})
		return err
	default:
		return err
	}
}

func (s *AccountStore) CreateAccount(ctx context.Context, account *ac.Account) error {
	key := s.namespacedKey(KindAccount, account.ID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing AccountEntity
		if err := tx.Get(key, &existing); err == nil {
			return ac.ErrConflict
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if err := claim(tx, s.namespacedKey(KindHandle, account.Handle), account.ID, ac.ErrConflict); err != nil {
			return err
		}
		if account.Federated != nil {
			if err := claim(tx, s.namespacedKey(KindFederatedID, account.Federated.Key()), account.ID, ac.ErrFederatedIDExists); err != nil {
				return err
			}
		}
		_, err := tx.Put(key, AccountToEntity(account, key))
		return err
	})
	return err
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*ac.Account, error) {
	var entity AccountEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindAccount, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ac.ErrAccountNotFound
		}
		return nil, err
	}
	return entity.ToAccount(), nil
}

func (s *AccountStore) byIndex(ctx context.Context, kind, name string) (*ac.Account, error) {
	var idx IndexEntity
	if err := s.client.Get(ctx, s.namespacedKey(kind, name), &idx); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ac.ErrAccountNotFound
		}
		return nil, err
	}
	return s.GetAccountByID(ctx, idx.AccountID)
}

func (s *AccountStore) GetAccountByHandle(ctx context.Context, handle string) (*ac.Account, error) {
	return s.byIndex(ctx, KindHandle, handle)
}

func (s *AccountStore) GetAccountByFederatedID(ctx context.Context, provider, subject string) (*ac.Account, error) {
	return s.byIndex(ctx, KindFederatedID, ac.FederatedIdentity{Provider: provider, Subject: subject}.Key())
}

func (s *AccountStore) UpdateAccount(ctx context.Context, account *ac.Account) error {
	key := s.namespacedKey(KindAccount, account.ID)
	var version int64
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var current AccountEntity
		if err := tx.Get(key, &current); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ac.ErrAccountNotFound
			}
			return err
		}
		if current.Version != account.Version {
			return ac.ErrStaleAccount
		}

		oldKey := ""
		if current.FederatedSubject != "" {
			oldKey = ac.FederatedIdentity{Provider: current.FederatedProvider, Subject: current.FederatedSubject}.Key()
		}
		newKey := ""
		if account.Federated != nil {
			newKey = account.Federated.Key()
		}
		if newKey != oldKey {
			if newKey != "" {
				if err := claim(tx, s.namespacedKey(KindFederatedID, newKey), account.ID, ac.ErrFederatedIDExists); err != nil {
					return err
				}
			}
			if oldKey != "" {
				if err := tx.Delete(s.namespacedKey(KindFederatedID, oldKey)); err != nil {
					return err
				}
			}
		}

		entity := AccountToEntity(account, key)
		entity.Handle = current.Handle
		entity.CreatedAt = current.CreatedAt
		entity.Version = current.Version + 1
		version = entity.Version
		_, err := tx.Put(key, entity)
		return err
	})
	if err != nil {
		return err
	}
	account.Version = version
	return nil
}

// ============================================================================
// SessionStore
// ============================================================================

// SessionStore implements ac.SessionStore using Google Cloud Datastore
type SessionStore struct {
	base
}

// NewSessionStore creates a new Datastore-backed SessionStore
func NewSessionStore(client *datastore.Client, namespace string) *SessionStore {
	return &SessionStore{base{client: client, namespace: namespace}}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *ac.Session) error {
	key := s.namespacedKey(KindSession, session.IDHash)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing SessionEntity
		if err := tx.Get(key, &existing); err == nil {
			return ac.ErrSessionExists
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		_, err := tx.Put(key, &SessionEntity{
			AccountID: session.AccountID,
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
		})
		return err
	})
	return err
}

func (s *SessionStore) GetSession(ctx context.Context, idHash string) (*ac.Session, error) {
	var entity SessionEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindSession, idHash), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ac.ErrSessionNotFound
		}
		return nil, err
	}
	return entity.ToSession(), nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, idHash string) error {
	return s.client.Delete(ctx, s.namespacedKey(KindSession, idHash))
}

func (s *SessionStore) deleteMatching(ctx context.Context, q *datastore.Query) error {
	keys, err := s.client.GetAll(ctx, q.KeysOnly(), nil)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.DeleteMulti(ctx, keys)
}

func (s *SessionStore) DeleteAccountSessions(ctx context.Context, accountID string) error {
	return s.deleteMatching(ctx, s.query(KindSession).FilterField("account_id", "=", accountID))
}

func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	return s.deleteMatching(ctx, s.query(KindSession).FilterField("expires_at", "<=", now))
}

// ============================================================================
// HandshakeStore
// ============================================================================

// HandshakeStore implements ac.HandshakeStore using Google Cloud Datastore
type HandshakeStore struct {
	base
}

// NewHandshakeStore creates a new Datastore-backed HandshakeStore
func NewHandshakeStore(client *datastore.Client, namespace string) *HandshakeStore {
	return &HandshakeStore{base{client: client, namespace: namespace}}
}

func (s *HandshakeStore) SaveHandshake(ctx context.Context, h *ac.Handshake) error {
	key := s.namespacedKey(KindHandshake, h.State)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing HandshakeEntity
		if err := tx.Get(key, &existing); err == nil {
			return ac.ErrHandshakeExists
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		_, err := tx.Put(key, HandshakeToEntity(h, key))
		return err
	})
	return err
}

func (s *HandshakeStore) ConsumeHandshake(ctx context.Context, state string, now time.Time) (*ac.Handshake, error) {
	key := s.namespacedKey(KindHandshake, state)
	var out *ac.Handshake
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity HandshakeEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ac.ErrStateMismatch
			}
			return err
		}
		if !entity.ConsumedAt.IsZero() || !now.Before(entity.ExpiresAt) {
			return ac.ErrExpired
		}
		entity.ConsumedAt = now
		if _, err := tx.Put(key, &entity); err != nil {
			return err
		}
		entity.Key = key
		out = entity.ToHandshake()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HandshakeStore) DeleteExpiredHandshakes(ctx context.Context, now time.Time) error {
	q := s.query(KindHandshake).FilterField("expires_at", "<=", now).KeysOnly()
	var keys []*datastore.Key
	it := s.client.Run(ctx, q)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.DeleteMulti(ctx, keys)
}
