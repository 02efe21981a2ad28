// Package scs adapts any github.com/alexedwards/scs/v2 Store (memstore,
// redisstore, pgxstore, ...) into an authcore.SessionStore.
//
// scs stores offer no create-if-absent primitive, so CreateSession is only
// atomic among callers in this process. Deleting all sessions of an account
// requires a store implementing scs.IterableStore.
package scs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"

	ac "github.com/panyam/authcore"
)

// Keys of the values encoded into each scs record.
const (
	keyAccountID = "account_id"
	keyCreatedAt = "created_at" // unix nanoseconds
)

// ErrNotIterable is returned by bulk deletes on stores that cannot list their records.
var ErrNotIterable = errors.New("scs store does not implement IterableStore")

// SessionStore stores authcore sessions as scs records keyed by the session id hash.
type SessionStore struct {
	Store scs.Store
	Codec scs.Codec

	stripes [64]sync.Mutex
}

// NewSessionStore wraps store with the gob codec scs uses by default.
func NewSessionStore(store scs.Store) *SessionStore {
	return &SessionStore{Store: store, Codec: scs.GobCodec{}}
}

func (s *SessionStore) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &s.stripes[h.Sum32()%uint32(len(s.stripes))]
	mu.Lock()
	return mu.Unlock
}

func (s *SessionStore) CreateSession(ctx context.Context, session *ac.Session) error {
	unlock := s.lock(session.IDHash)
	defer unlock()

	_, found, err := s.Store.Find(session.IDHash)
	if err != nil {
		return err
	}
	if found {
		return ac.ErrSessionExists
	}
	b, err := s.Codec.Encode(session.ExpiresAt, map[string]interface{}{
		keyAccountID: session.AccountID,
		keyCreatedAt: session.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return s.Store.Commit(session.IDHash, b, session.ExpiresAt)
}

func (s *SessionStore) decode(idHash string, b []byte) (*ac.Session, error) {
	deadline, values, err := s.Codec.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	accountID, _ := values[keyAccountID].(string)
	createdAt, _ := values[keyCreatedAt].(int64)
	return &ac.Session{
		IDHash:    idHash,
		AccountID: accountID,
		CreatedAt: time.Unix(0, createdAt).UTC(),
		ExpiresAt: deadline,
	}, nil
}

func (s *SessionStore) GetSession(ctx context.Context, idHash string) (*ac.Session, error) {
	b, found, err := s.Store.Find(idHash)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ac.ErrSessionNotFound
	}
	return s.decode(idHash, b)
}

func (s *SessionStore) DeleteSession(ctx context.Context, idHash string) error {
	return s.Store.Delete(idHash)
}

func (s *SessionStore) deleteWhere(pred func(*ac.Session) bool) error {
	iterable, ok := s.Store.(scs.IterableStore)
	if !ok {
		return ErrNotIterable
	}
	all, err := iterable.All()
	if err != nil {
		return err
	}
	for idHash, b := range all {
		session, err := s.decode(idHash, b)
		if err != nil {
			continue
		}
		if pred(session) {
			if err := s.Store.Delete(idHash); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SessionStore) DeleteAccountSessions(ctx context.Context, accountID string) error {
	return s.deleteWhere(func(session *ac.Session) bool { return session.AccountID == accountID })
}

// DeleteExpiredSessions removes expired records. Stores that cannot be
// iterated expire records on their own, so this is a no-op for them.
func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	err := s.deleteWhere(func(session *ac.Session) bool { return session.IsExpired(now) })
	if errors.Is(err, ErrNotIterable) {
		return nil
	}
	return err
}
