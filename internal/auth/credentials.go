// ABOUTME: Secure credential store capability for raw session tokens
// ABOUTME: File-backed and in-memory implementations keyed by account handle

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoCredentials is returned when no secret material is stored for a handle.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials is the raw secret material for one live session. It is held
// only by the credential store; the rest of the system sees fingerprints.
type Credentials struct {
	DID        string `json:"did"`
	ServiceURL string `json:"service_url"`
	AccessJWT  string `json:"access_jwt"`
	RefreshJWT string `json:"refresh_jwt,omitempty"`
}

// CredentialStore is the narrow capability for secret storage. A production
// build injects an OS keychain adapter; the default is a file under the data
// directory.
type CredentialStore interface {
	Put(handle string, creds *Credentials) error
	Get(handle string) (*Credentials, error)
	Delete(handle string) error
}

// MemoryCredentialStore keeps credentials in process memory. Used in tests
// and as a fallback when no durable secret storage is wanted.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]Credentials
}

// NewMemoryCredentialStore creates an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]Credentials)}
}

func (s *MemoryCredentialStore) Put(handle string, creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[handle] = *creds
	return nil
}

func (s *MemoryCredentialStore) Get(handle string) (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.creds[handle]
	if !ok {
		return nil, ErrNoCredentials
	}
	return &creds, nil
}

func (s *MemoryCredentialStore) Delete(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, handle)
	return nil
}

// FileCredentialStore persists credentials as a 0600 JSON file. The whole
// file is rewritten on every change; the data set is a handful of accounts.
type FileCredentialStore struct {
	mu   sync.Mutex
	path string
}

// NewFileCredentialStore creates a store backed by the given file path.
// Parent directories are created if needed.
func NewFileCredentialStore(path string) (*FileCredentialStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}
	return &FileCredentialStore{path: path}, nil
}

func (s *FileCredentialStore) Put(handle string, creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	all[handle] = *creds
	return s.save(all)
}

func (s *FileCredentialStore) Get(handle string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	creds, ok := all[handle]
	if !ok {
		return nil, ErrNoCredentials
	}
	return &creds, nil
}

func (s *FileCredentialStore) Delete(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := all[handle]; !ok {
		return nil
	}
	delete(all, handle)
	return s.save(all)
}

func (s *FileCredentialStore) load() (map[string]Credentials, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]Credentials), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	all := make(map[string]Credentials)
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	return all, nil
}

func (s *FileCredentialStore) save(all map[string]Credentials) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a torn file
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing credentials file: %w", err)
	}
	return nil
}
