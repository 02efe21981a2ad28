// Package fs keeps client credentials in a JSON file.
package fs

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/panyam/authcore/client"
)

// FSCredentialStore holds the credentials of every server in one file that
// only its owner can read. Changes stay in memory until Save.
type FSCredentialStore struct {
	path string

	mu    sync.RWMutex
	byKey map[string]*client.ServerCredential
	dirty bool
}

type credentialFile struct {
	Servers map[string]*client.ServerCredential `json:"servers"`
}

// DefaultPath is <user config dir>/<appName>/credentials.json.
func DefaultPath(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("no config directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "authcore"
	}
	return filepath.Join(dir, appName, "credentials.json"), nil
}

// NewFSCredentialStore opens the store at path, or at DefaultPath(appName)
// when path is empty. A missing file is an empty store.
func NewFSCredentialStore(path string, appName string) (*FSCredentialStore, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(appName); err != nil {
			return nil, err
		}
	}
	s := &FSCredentialStore{path: path, byKey: map[string]*client.ServerCredential{}}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, err
	}
	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for k, v := range file.Servers {
		s.byKey[k] = v
	}
	return s, nil
}

// serverKey reduces a URL to scheme://host. The scheme defaults to https.
func serverKey(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host, nil
}

func (s *FSCredentialStore) GetCredential(serverURL string) (*client.ServerCredential, error) {
	key, err := serverKey(serverURL)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byKey[key], nil
}

// mutate applies fn to the entry of serverURL under the write lock.
func (s *FSCredentialStore) mutate(serverURL string, fn func(key string) bool) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn(key) {
		s.dirty = true
	}
	return nil
}

func (s *FSCredentialStore) SetCredential(serverURL string, cred *client.ServerCredential) error {
	return s.mutate(serverURL, func(key string) bool {
		s.byKey[key] = cred
		return true
	})
}

func (s *FSCredentialStore) RemoveCredential(serverURL string) error {
	return s.mutate(serverURL, func(key string) bool {
		_, ok := s.byKey[key]
		delete(s.byKey, key)
		return ok
	})
}

// ListServers returns the stored server keys, sorted.
func (s *FSCredentialStore) ListServers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// Save writes the file if anything changed.
func (s *FSCredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	data, err := json.MarshalIndent(credentialFile{Servers: s.byKey}, "", "  ")
	if err != nil {
		return err
	}
	if err := replaceFile(s.path, data); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *FSCredentialStore) Path() string {
	return s.path
}

// replaceFile writes data to a 0600 temp file beside path and renames it
// over path.
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
