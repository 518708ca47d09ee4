package vocab

import (
	"context"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-process use and testing.
// The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	users map[string]map[string][]Pair
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{users: make(map[string]map[string][]Pair)}
}

// Replace implements [Store.Replace].
func (s *MemStore) Replace(_ context.Context, userID, name string, pairs []Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.users == nil {
		s.users = make(map[string]map[string][]Pair)
	}
	names, ok := s.users[userID]
	if !ok {
		names = make(map[string][]Pair)
		s.users[userID] = names
	}
	names[name] = clonePairs(pairs)
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, userID, name string) ([]Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs, ok := s.users[userID][name]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePairs(pairs), nil
}

// Names implements [Store.Names].
func (s *MemStore) Names(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.users[userID]))
	for n := range s.users[userID] {
		names = append(names, n)
	}
	return names, nil
}

// Clear implements [Store.Clear].
func (s *MemStore) Clear(_ context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users[userID], name)
	return nil
}

// ClearAll implements [Store.ClearAll].
func (s *MemStore) ClearAll(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)
	return nil
}
