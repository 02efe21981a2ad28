package fs

import (
	"context"
	"encoding/json"
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	ac "github.com/panyam/authcore"
)

// FSSessionStore stores one JSON file per session, named by the id hash.
type FSSessionStore struct {
	StoragePath string
}

func NewFSSessionStore(storagePath string) *FSSessionStore {
	return &FSSessionStore{StoragePath: storagePath}
}

func (s *FSSessionStore) dir() string {
	return filepath.Join(s.StoragePath, "sessions")
}

func (s *FSSessionStore) sessionPath(idHash string) string {
	return filepath.Join(s.dir(), fileKey(idHash)+".json")
}

func (s *FSSessionStore) CreateSession(ctx context.Context, session *ac.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := createExclusive(s.sessionPath(session.IDHash), data); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return ac.ErrSessionExists
		}
		return err
	}
	return nil
}

func (s *FSSessionStore) GetSession(ctx context.Context, idHash string) (*ac.Session, error) {
	var session ac.Session
	if err := readJSON(s.sessionPath(idHash), &session); err != nil {
		if os.IsNotExist(err) {
			return nil, ac.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *FSSessionStore) DeleteSession(ctx context.Context, idHash string) error {
	err := os.Remove(s.sessionPath(idHash))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// deleteWhere removes every session file matching pred.
func (s *FSSessionStore) deleteWhere(pred func(*ac.Session) bool) error {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir(), entry.Name())
		var session ac.Session
		if err := readJSON(path, &session); err != nil {
			continue
		}
		if pred(&session) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

func (s *FSSessionStore) DeleteAccountSessions(ctx context.Context, accountID string) error {
	return s.deleteWhere(func(session *ac.Session) bool { return session.AccountID == accountID })
}

func (s *FSSessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	return s.deleteWhere(func(session *ac.Session) bool { return session.IsExpired(now) })
}
