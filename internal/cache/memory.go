package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a MemoryStore created with a non-positive size.
const DefaultMaxEntries = 256

// MemoryStore is an in-process Store. Expired entries are dropped lazily on
// read and swept when the store is full.
type MemoryStore struct {
	entries    map[string]*Entry
	now        func() time.Time
	mu         sync.Mutex
	maxEntries int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a memory store holding at most maxEntries entries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		entries:    make(map[string]*Entry),
		now:        time.Now,
		maxEntries: maxEntries,
	}
}

// Get returns the live entry for key or ErrMiss.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if e.Expired(now) {
		delete(s.entries, key)
		return nil, ErrMiss
	}
	cp := *e
	return &cp, nil
}

// Set stores value under key for ttl.
func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	now := s.now()
	e, err := newEntry(key, value, ttl, now)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.evict(now)
	}
	s.entries[key] = e
	return nil
}

// evict drops expired entries, then arbitrary ones until there is room.
// Callers hold mu.
func (s *MemoryStore) evict(now time.Time) {
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
		}
	}
	for k := range s.entries {
		if len(s.entries) < s.maxEntries {
			return
		}
		delete(s.entries, k)
	}
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Clear removes every entry.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
