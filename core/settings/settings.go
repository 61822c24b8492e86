package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/pipeforge/conduit/api"
)

// Store holds the persisted valve overrides, one TOML table per pipe
// id. Writes go through Set and are persisted atomically; the file can
// also be edited externally and re-read with Load.
type Store struct {
	path   string
	values map[string]map[string]interface{}
	mutex  sync.RWMutex
	logger api.Logger
}

// NewStore creates a settings store backed by the given file. An empty
// path keeps the store in memory only.
func NewStore(path string, logger api.Logger) *Store {
	return &Store{
		path:   path,
		values: make(map[string]map[string]interface{}),
		logger: logger,
	}
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.path
}

// Load reads the backing file, replacing the in-memory state. A missing
// file leaves the store empty.
func (s *Store) Load() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.values = make(map[string]map[string]interface{})

	if s.path == "" {
		return nil
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.logger.Debug("Settings file does not exist yet", "path", s.path)
		return nil
	}

	var loaded map[string]map[string]interface{}
	if _, err := toml.DecodeFile(s.path, &loaded); err != nil {
		return fmt.Errorf("failed to decode settings file %s: %w", s.path, err)
	}
	if loaded != nil {
		s.values = loaded
	}

	s.logger.Debug("Loaded settings", "path", s.path, "pipes", len(s.values))
	return nil
}

// Get returns a copy of the stored overrides for a pipe
func (s *Store) Get(pipeID string) map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stored, ok := s.values[pipeID]
	if !ok {
		return nil
	}
	result := make(map[string]interface{}, len(stored))
	for k, v := range stored {
		result[k] = v
	}
	return result
}

// Set stores one override and persists the file
func (s *Store) Set(pipeID, key string, value interface{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	table, ok := s.values[pipeID]
	if !ok {
		table = make(map[string]interface{})
		s.values[pipeID] = table
	}
	table[key] = value

	if err := s.persistLocked(); err != nil {
		return err
	}

	s.logger.Debug("Stored valve override", "pipe", pipeID, "valve", key)
	return nil
}

// Unset removes one override and persists the file
func (s *Store) Unset(pipeID, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	table, ok := s.values[pipeID]
	if !ok {
		return nil
	}
	delete(table, key)
	if len(table) == 0 {
		delete(s.values, pipeID)
	}

	return s.persistLocked()
}

// Snapshot returns a deep copy of the whole store
func (s *Store) Snapshot() map[string]map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make(map[string]map[string]interface{}, len(s.values))
	for pipeID, table := range s.values {
		copied := make(map[string]interface{}, len(table))
		for k, v := range table {
			copied[k] = v
		}
		result[pipeID] = copied
	}
	return result
}

// DiffPipes returns the pipe ids whose tables differ between two
// snapshots.
func DiffPipes(before, after map[string]map[string]interface{}) []string {
	changed := []string{}
	seen := make(map[string]bool)

	for pipeID := range before {
		seen[pipeID] = true
		if !reflect.DeepEqual(before[pipeID], after[pipeID]) {
			changed = append(changed, pipeID)
		}
	}
	for pipeID := range after {
		if !seen[pipeID] {
			changed = append(changed, pipeID)
		}
	}
	return changed
}

// persistLocked writes the store atomically. Callers hold the write
// lock.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(s.values); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp settings file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
