package accessory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KnownStore persists the mapping from previously-paired device ids to
// their stored display names. The core treats it as an opaque key-value
// capability; the on-disk format is a single JSON file under the data dir.
type KnownStore struct {
	mu   sync.Mutex
	path string
}

type knownEntry struct {
	Name string `json:"name"`
}

// NewKnownStore creates a store rooted at dataDir.
func NewKnownStore(dataDir string) *KnownStore {
	return &KnownStore{
		path: filepath.Join(dataDir, "known_devices.json"),
	}
}

// Remember stores name for id, overwriting any previous entry.
func (s *KnownStore) Remember(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[id] = knownEntry{Name: name}
	return s.save(entries)
}

// Recall returns the stored name for id, if any.
func (s *KnownStore) Recall(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return "", false
	}
	entry, ok := entries[id]
	return entry.Name, ok
}

// IsKnown reports whether id has a stored entry.
func (s *KnownStore) IsKnown(id string) bool {
	_, ok := s.Recall(id)
	return ok
}

// ForgetAll removes every stored entry.
func (s *KnownStore) ForgetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear known devices: %w", err)
	}
	return nil
}

// load reads the store file, returning an empty map if it does not exist.
func (s *KnownStore) load() (map[string]knownEntry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]knownEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read known devices: %w", err)
	}

	entries := map[string]knownEntry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse known devices: %w", err)
	}
	return entries, nil
}

func (s *KnownStore) save(entries map[string]knownEntry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write known devices: %w", err)
	}
	return nil
}
