package config

import "sync"

// Store holds the live settings shared between the HTTP API and the
// frame feed. Writers replace the whole snapshot; the generation
// counter lets the feed attach settings to a frame only when something
// actually changed.
type Store struct {
	mu       sync.RWMutex
	settings *Settings
	gen      uint64
}

// NewStore seeds the store. A nil snapshot starts from defaults.
func NewStore(s *Settings) *Store {
	if s == nil {
		s = Default()
	}
	return &Store{settings: s, gen: 1}
}

// Get returns an independent copy of the current settings and the
// generation it belongs to.
func (st *Store) Get() (*Settings, uint64) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.settings.Clone(), st.gen
}

// Set validates the snapshot, installs it and bumps the generation.
func (st *Store) Set(s *Settings) {
	clone := s.Clone()
	clone.Validate()

	st.mu.Lock()
	defer st.mu.Unlock()
	st.settings = clone
	st.gen++
}

// Update applies fn to a copy of the current settings and installs the
// result. Used by handlers that patch a few fields.
func (st *Store) Update(fn func(*Settings)) *Settings {
	st.mu.Lock()
	defer st.mu.Unlock()

	clone := st.settings.Clone()
	fn(clone)
	clone.Validate()
	st.settings = clone
	st.gen++
	return clone.Clone()
}

// Generation returns the current settings generation.
func (st *Store) Generation() uint64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.gen
}
