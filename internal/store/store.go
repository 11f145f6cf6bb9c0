// Package store persists per-provider session state between interactive
// sessions.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/specterlabs/handoff/pkg/models"
)

// Store keeps one JSON file per provider under its base directory. The
// file holds whatever authenticated state the last session ended with, so
// the automation layer can resume without a fresh login.
type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(provider string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_session.json", provider))
}

// Save writes the provider's state, replacing whatever was there.
func (s *Store) Save(provider string, state *models.StorageState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	tmp := s.path(provider) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	return os.Rename(tmp, s.path(provider))
}

// Load returns the provider's saved state, or nil when none exists.
func (s *Store) Load(provider string) (*models.StorageState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(provider))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}

	var state models.StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		// A torn or hand-edited file counts as no session.
		return nil, nil
	}
	return &state, nil
}

// Delete removes the provider's saved state. Missing state is not an error.
func (s *Store) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(provider))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// HasSession reports whether the provider has saved state with cookies.
func (s *Store) HasSession(provider string) bool {
	state, err := s.Load(provider)
	return err == nil && state != nil && len(state.Cookies) > 0
}
