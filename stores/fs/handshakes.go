package fs

import (
	"context"
	"encoding/json"
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"time"

	ac "github.com/panyam/authcore"
)

// FSHandshakeStore keeps pending handshakes under pending/ and consumes them
// by renaming into consumed/. Only one rename of a given file can succeed.
type FSHandshakeStore struct {
	StoragePath string
}

func NewFSHandshakeStore(storagePath string) *FSHandshakeStore {
	return &FSHandshakeStore{StoragePath: storagePath}
}

func (s *FSHandshakeStore) path(sub, state string) string {
	return filepath.Join(s.StoragePath, "handshakes", sub, fileKey(state)+".json")
}

func (s *FSHandshakeStore) SaveHandshake(ctx context.Context, h *ac.Handshake) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if _, err := os.Stat(s.path("consumed", h.State)); err == nil {
		return ac.ErrHandshakeExists
	}
	if err := createExclusive(s.path("pending", h.State), data); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return ac.ErrHandshakeExists
		}
		return err
	}
	return nil
}

func (s *FSHandshakeStore) ConsumeHandshake(ctx context.Context, state string, now time.Time) (*ac.Handshake, error) {
	pending := s.path("pending", state)
	consumed := s.path("consumed", state)

	var h ac.Handshake
	if err := readJSON(pending, &h); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if _, err := os.Stat(consumed); err == nil {
			return nil, ac.ErrExpired
		}
		return nil, ac.ErrStateMismatch
	}
	if !now.Before(h.ExpiresAt) {
		return nil, ac.ErrExpired
	}
	if err := os.MkdirAll(filepath.Dir(consumed), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(pending, consumed); err != nil {
		if os.IsNotExist(err) {
			return nil, ac.ErrExpired
		}
		return nil, err
	}
	h.ConsumedAt = &now
	return &h, nil
}

func (s *FSHandshakeStore) DeleteExpiredHandshakes(ctx context.Context, now time.Time) error {
	for _, sub := range []string{"pending", "consumed"} {
		dir := filepath.Join(s.StoragePath, "handshakes", sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			var h ac.Handshake
			if err := readJSON(path, &h); err != nil {
				continue
			}
			if !now.Before(h.ExpiresAt) {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return err
				}
			}
		}
	}
	return nil
}
