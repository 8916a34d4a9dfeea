// Package credentials stores provider secrets in a mode-0600 JSON file.
//
// Keys are namespaced by provider, e.g. Get("todoist", "api_token").
// The file lives next to the config in the taskfuse home directory.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store reads and writes provider credentials.
// All methods are safe for concurrent use.
type Store struct {
	path string

	mu    sync.RWMutex
	creds map[string]map[string]string // provider -> key -> value
}

// Open loads the credential file at path, creating an empty store if the
// file does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		path:  path,
		creds: make(map[string]map[string]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	if err := json.Unmarshal(data, &s.creds); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	return s, nil
}

// Get returns the credential value, or "" when unset.
func (s *Store) Get(provider, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds[provider][key]
}

// Set stores a credential value and persists the file.
func (s *Store) Set(provider, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.creds[provider] == nil {
		s.creds[provider] = make(map[string]string)
	}
	s.creds[provider][key] = value
	return s.save()
}

// Delete removes all credentials for a provider and persists the file.
func (s *Store) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.creds, provider)
	return s.save()
}

// Providers returns the providers that have stored credentials, sorted.
func (s *Store) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.creds))
	for p := range s.creds {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Keys returns the credential keys stored for a provider, sorted.
// Values are never exposed in bulk; use Get for a specific key.
func (s *Store) Keys(provider string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.creds[provider]))
	for k := range s.creds[provider] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// save writes the file with owner-only permissions. Callers hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	// Write-then-rename so a crash never leaves a partial secrets file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing credentials file: %w", err)
	}
	return nil
}
