package vocab

import "sync"

// InlineSet holds the ephemeral vocabulary of one open session. Entries are
// visible as soon as [InlineSet.Set] returns and are dropped by
// [InlineSet.Reset] when the session closes.
//
// InlineSet is safe for concurrent use. The zero value is ready to use.
type InlineSet struct {
	mu    sync.RWMutex
	names map[string][]Pair
}

// Set replaces the inline entries of name with pairs.
func (s *InlineSet) Set(name string, pairs []Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names == nil {
		s.names = make(map[string][]Pair)
	}
	s.names[name] = clonePairs(pairs)
}

// Get returns the inline entries of name, or nil.
func (s *InlineSet) Get(name string) []Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePairs(s.names[name])
}

// Clear removes the inline entries of name.
func (s *InlineSet) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.names, name)
}

// Len reports how many names currently carry inline entries.
func (s *InlineSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}

// Reset drops every inline entry.
func (s *InlineSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = nil
}

// Snapshot returns a copy of every inline entry keyed by name.
func (s *InlineSet) Snapshot() map[string][]Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Pair, len(s.names))
	for name, pairs := range s.names {
		out[name] = clonePairs(pairs)
	}
	return out
}
