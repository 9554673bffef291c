// Package continuation keeps the latest resume token for each specialist
// conversation.
package continuation

import (
	"sort"
	"sync"
)

// MainKey is the slot used by single-specialist and auto-routed flows.
const MainKey = "main"

// Store maps a key to the most recent continuation token. Other keys are
// specialist names. Tokens never expire.
type Store struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{tokens: make(map[string]string)}
}

// Get returns the token stored under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[key]
	return tok, ok
}

// Set stores token under key, replacing any previous value. Empty keys and
// empty tokens are ignored.
func (s *Store) Set(key, token string) {
	if key == "" || token == "" {
		return
	}
	s.mu.Lock()
	s.tokens[key] = token
	s.mu.Unlock()
}

// Clear drops every stored token.
func (s *Store) Clear() {
	s.mu.Lock()
	s.tokens = make(map[string]string)
	s.mu.Unlock()
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.tokens))
	for k := range s.tokens {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
