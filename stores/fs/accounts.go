package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	ac "github.com/panyam/authcore"
)

// FSAccountStore stores accounts as JSON files, with one index file per
// handle and per federated identity. Index files are created exclusively,
// which makes handle and identity claims atomic. Updates of one account are
// serialized within the process.
type FSAccountStore struct {
	StoragePath string
	locks       keyedMutex
}

func NewFSAccountStore(storagePath string) *FSAccountStore {
	return &FSAccountStore{StoragePath: storagePath}
}

func (s *FSAccountStore) accountPath(id string) string {
	return filepath.Join(s.StoragePath, "accounts", filepath.Base(id)+".json")
}

func (s *FSAccountStore) handlePath(handle string) string {
	return filepath.Join(s.StoragePath, "handles", fileKey(handle))
}

func (s *FSAccountStore) federatedPath(key string) string {
	return filepath.Join(s.StoragePath, "federated", fileKey(key))
}

func (s *FSAccountStore) CreateAccount(ctx context.Context, account *ac.Account) error {
	data, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return err
	}
	path := s.accountPath(account.ID)
	if err := createExclusive(path, data); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return ac.ErrConflict
		}
		return err
	}
	if err := createExclusive(s.handlePath(account.Handle), []byte(account.ID)); err != nil {
		os.Remove(path)
		if errors.Is(err, iofs.ErrExist) {
			return ac.ErrConflict
		}
		return err
	}
	if account.Federated != nil {
		if err := createExclusive(s.federatedPath(account.Federated.Key()), []byte(account.ID)); err != nil {
			os.Remove(s.handlePath(account.Handle))
			os.Remove(path)
			if errors.Is(err, iofs.ErrExist) {
				return ac.ErrFederatedIDExists
			}
			return err
		}
	}
	return nil
}

func (s *FSAccountStore) GetAccountByID(ctx context.Context, id string) (*ac.Account, error) {
	var account ac.Account
	if err := readJSON(s.accountPath(id), &account); err != nil {
		if os.IsNotExist(err) {
			return nil, ac.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *FSAccountStore) lookupIndex(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ac.ErrAccountNotFound
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FSAccountStore) GetAccountByHandle(ctx context.Context, handle string) (*ac.Account, error) {
	id, err := s.lookupIndex(s.handlePath(handle))
	if err != nil {
		return nil, err
	}
	return s.GetAccountByID(ctx, id)
}

func (s *FSAccountStore) GetAccountByFederatedID(ctx context.Context, provider, subject string) (*ac.Account, error) {
	key := ac.FederatedIdentity{Provider: provider, Subject: subject}.Key()
	id, err := s.lookupIndex(s.federatedPath(key))
	if err != nil {
		return nil, err
	}
	return s.GetAccountByID(ctx, id)
}

func (s *FSAccountStore) UpdateAccount(ctx context.Context, account *ac.Account) error {
	unlock := s.locks.lock(account.ID)
	defer unlock()

	current, err := s.GetAccountByID(ctx, account.ID)
	if err != nil {
		return err
	}
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
	claimed := false
	if newKey != oldKey && newKey != "" {
		err := createExclusive(s.federatedPath(newKey), []byte(account.ID))
		if errors.Is(err, iofs.ErrExist) {
			if owner, _ := s.lookupIndex(s.federatedPath(newKey)); owner != account.ID {
				return ac.ErrFederatedIDExists
			}
		} else if err != nil {
			return err
		} else {
			claimed = true
		}
	}

	updated := account.Clone()
	updated.Handle = current.Handle
	updated.CreatedAt = current.CreatedAt
	updated.Version = current.Version + 1
	data, err := json.MarshalIndent(updated, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomicFile(s.accountPath(account.ID), data); err != nil {
		if claimed {
			os.Remove(s.federatedPath(newKey))
		}
		return fmt.Errorf("failed to write account: %w", err)
	}
	if newKey != oldKey && oldKey != "" {
		os.Remove(s.federatedPath(oldKey))
	}
	account.Version = updated.Version
	return nil
}
