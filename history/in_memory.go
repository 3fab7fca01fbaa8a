package history

import (
	"context"
	"sync"
)

// InMemoryStore is a volatile Store keeping turns in a process local map. It
// is safe for concurrent access and best suited for tests or single-node
// deployments without persistence requirements. Returned slices are copies to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	turns    map[string][]Turn
	maxTurns int
}

var _ Store = (*InMemoryStore)(nil)

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithMaxTurns caps retained turns per chat; the oldest are evicted first.
// Zero means unbounded.
func WithMaxTurns(n int) InMemoryOption {
	return func(s *InMemoryStore) { s.maxTurns = n }
}

// NewInMemoryStore constructs an empty in-memory history store.
func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{turns: make(map[string][]Turn)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append implements Store.
func (s *InMemoryStore) Append(_ context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.turns[turn.ChatID], turn)
	if s.maxTurns > 0 && len(list) > s.maxTurns {
		list = list[len(list)-s.maxTurns:]
	}
	s.turns[turn.ChatID] = list
	return nil
}

// Recent implements Store.
func (s *InMemoryStore) Recent(_ context.Context, chatID string, n int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.turns[chatID]
	if n > 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	out := make([]Turn, len(list))
	copy(out, list)
	return out, nil
}

// Count implements Store.
func (s *InMemoryStore) Count(_ context.Context, chatID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns[chatID]), nil
}

// Clear implements Store.
func (s *InMemoryStore) Clear(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, chatID)
	return nil
}
