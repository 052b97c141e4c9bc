package memory

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

// StateStore keeps authorization states in a map. Expired entries are removed
// on consume or by DeleteExpired.
type StateStore struct {
	mu     sync.Mutex
	states map[string]domain.AuthorizationState
}

// NewStateStore creates an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]domain.AuthorizationState)}
}

func (s *StateStore) IssueState(_ context.Context, state domain.AuthorizationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.Token] = state
	return nil
}

func (s *StateStore) ConsumeState(_ context.Context, token string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[token]
	if !ok {
		return domain.ErrAuthStateInvalid
	}
	delete(s.states, token)
	if state.Expired(now) {
		return domain.ErrAuthStateInvalid
	}
	return nil
}

func (s *StateStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for token, state := range s.states {
		if state.Expired(now) {
			delete(s.states, token)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored states, expired or not.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func (s *StateStore) Ping(context.Context) error { return nil }

func (s *StateStore) Close() error { return nil }
