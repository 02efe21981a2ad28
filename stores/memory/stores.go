// Package memory provides in-process implementations of the authcore stores.
// Every create-if-absent and consume is a per-key compare-and-set; there is
// no store-wide lock.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	ac "github.com/panyam/authcore"
)

type accountEntry struct {
	mu      sync.Mutex
	account *ac.Account
}

// AccountStore keeps accounts in sync.Maps indexed by id, handle and
// federated identity.
type AccountStore struct {
	byID        sync.Map // id -> *accountEntry
	byHandle    sync.Map // handle -> id
	byFederated sync.Map // provider:subject -> id
}

func NewAccountStore() *AccountStore {
	return &AccountStore{}
}

func (s *AccountStore) CreateAccount(ctx context.Context, account *ac.Account) error {
	entry := &accountEntry{account: account.Clone()}
	if _, loaded := s.byID.LoadOrStore(account.ID, entry); loaded {
		return ac.ErrConflict
	}
	if _, loaded := s.byHandle.LoadOrStore(account.Handle, account.ID); loaded {
		s.byID.CompareAndDelete(account.ID, entry)
		return ac.ErrConflict
	}
	if account.Federated != nil {
		if _, loaded := s.byFederated.LoadOrStore(account.Federated.Key(), account.ID); loaded {
			s.byHandle.CompareAndDelete(account.Handle, account.ID)
			s.byID.CompareAndDelete(account.ID, entry)
			return ac.ErrFederatedIDExists
		}
	}
	return nil
}

func (s *AccountStore) entry(id string) (*accountEntry, error) {
	v, ok := s.byID.Load(id)
	if !ok {
		return nil, ac.ErrAccountNotFound
	}
	return v.(*accountEntry), nil
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*ac.Account, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Clone(), nil
}

func (s *AccountStore) GetAccountByHandle(ctx context.Context, handle string) (*ac.Account, error) {
	id, ok := s.byHandle.Load(handle)
	if !ok {
		return nil, ac.ErrAccountNotFound
	}
	return s.GetAccountByID(ctx, id.(string))
}

func (s *AccountStore) GetAccountByFederatedID(ctx context.Context, provider, subject string) (*ac.Account, error) {
	key := ac.FederatedIdentity{Provider: provider, Subject: subject}.Key()
	id, ok := s.byFederated.Load(key)
	if !ok {
		return nil, ac.ErrAccountNotFound
	}
	return s.GetAccountByID(ctx, id.(string))
}

func (s *AccountStore) UpdateAccount(ctx context.Context, account *ac.Account) error {
	e, err := s.entry(account.ID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.account
	if current.Version != account.Version {
		return ac.ErrStaleAccount
	}

	var oldKey, newKey string
	if current.Federated != nil {
		oldKey = current.Federated.Key()
	}
	if account.Federated != nil {
		newKey = account.Federated.Key()
	}
	if newKey != oldKey {
		if newKey != "" {
			if owner, loaded := s.byFederated.LoadOrStore(newKey, account.ID); loaded && owner != account.ID {
				return ac.ErrFederatedIDExists
			}
		}
		if oldKey != "" {
			s.byFederated.CompareAndDelete(oldKey, account.ID)
		}
	}

	updated := account.Clone()
	updated.Handle = current.Handle
	updated.CreatedAt = current.CreatedAt
	updated.Version = current.Version + 1
	e.account = updated
	account.Version = updated.Version
	return nil
}

// SessionStore keeps sessions keyed by id hash.
type SessionStore struct {
	sessions sync.Map // id hash -> *ac.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *ac.Session) error {
	cp := *session
	if _, loaded := s.sessions.LoadOrStore(session.IDHash, &cp); loaded {
		return ac.ErrSessionExists
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, idHash string) (*ac.Session, error) {
	v, ok := s.sessions.Load(idHash)
	if !ok {
		return nil, ac.ErrSessionNotFound
	}
	cp := *v.(*ac.Session)
	return &cp, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, idHash string) error {
	s.sessions.Delete(idHash)
	return nil
}

func (s *SessionStore) DeleteAccountSessions(ctx context.Context, accountID string) error {
	s.sessions.Range(func(k, v any) bool {
		if v.(*ac.Session).AccountID == accountID {
			s.sessions.CompareAndDelete(k, v)
		}
		return true
	})
	return nil
}

func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	s.sessions.Range(func(k, v any) bool {
		if v.(*ac.Session).IsExpired(now) {
			s.sessions.CompareAndDelete(k, v)
		}
		return true
	})
	return nil
}

type handshakeEntry struct {
	handshake *ac.Handshake
	consumed  atomic.Bool
}

// HandshakeStore keeps handshakes keyed by state. Consumed handshakes stay
// as tombstones until they expire.
type HandshakeStore struct {
	handshakes sync.Map // state -> *handshakeEntry
}

func NewHandshakeStore() *HandshakeStore {
	return &HandshakeStore{}
}

func cloneHandshake(h *ac.Handshake) *ac.Handshake {
	cp := *h
	cp.Scopes = append([]string(nil), h.Scopes...)
	if h.ConsumedAt != nil {
		t := *h.ConsumedAt
		cp.ConsumedAt = &t
	}
	return &cp
}

func (s *HandshakeStore) SaveHandshake(ctx context.Context, h *ac.Handshake) error {
	e := &handshakeEntry{handshake: cloneHandshake(h)}
	if _, loaded := s.handshakes.LoadOrStore(h.State, e); loaded {
		return ac.ErrHandshakeExists
	}
	return nil
}

func (s *HandshakeStore) ConsumeHandshake(ctx context.Context, state string, now time.Time) (*ac.Handshake, error) {
	v, ok := s.handshakes.Load(state)
	if !ok {
		return nil, ac.ErrStateMismatch
	}
	e := v.(*handshakeEntry)
	if !now.Before(e.handshake.ExpiresAt) {
		return nil, ac.ErrExpired
	}
	if !e.consumed.CompareAndSwap(false, true) {
		return nil, ac.ErrExpired
	}
	out := cloneHandshake(e.handshake)
	out.ConsumedAt = &now
	return out, nil
}

func (s *HandshakeStore) DeleteExpiredHandshakes(ctx context.Context, now time.Time) error {
	s.handshakes.Range(func(k, v any) bool {
		if !now.Before(v.(*handshakeEntry).handshake.ExpiresAt) {
			s.handshakes.CompareAndDelete(k, v)
		}
		return true
	})
	return nil
}
