package config

import (
	"fmt"
	"sync"
)

// Store is the process-wide guarded holder for the live config: readers get
// a copy-on-read Snapshot, writers replace the whole value under a mutex and
// persist it to disk (spec.md §5 "Shared resources").
type Store struct {
	mu  sync.RWMutex
	cur *Config

	cfgFile string
}

// NewStore wraps an already-loaded config for process-wide sharing.
func NewStore(initial *Config, cfgFile string) *Store {
	return &Store{cur: initial, cfgFile: cfgFile}
}

// Snapshot returns a copy of the current config, safe to read without
// holding any lock.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Snapshot()
}

// Set validates, applies, and persists a new config. The in-memory value is
// updated even if persistence fails, per spec.md §7 ConfigPersistError: the
// caller receiving the error still observes the new config thereafter.
func (s *Store) Set(update *Config) error {
	result := update.ValidateTiered()
	if result.HasFatals() {
		return fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}

	s.mu.Lock()
	s.cur = update
	s.mu.Unlock()

	if err := SaveTo(update, s.cfgFile); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	return nil
}
