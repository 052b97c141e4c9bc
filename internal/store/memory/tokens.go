// Package memory provides in-process store backends for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

// TokenStore keeps credentials in a map. Contents are lost on restart.
type TokenStore struct {
	mu    sync.RWMutex
	creds map[int64]domain.UserCredential
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{creds: make(map[int64]domain.UserCredential)}
}

func (s *TokenStore) GetCredential(_ context.Context, athleteID int64) (domain.UserCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[athleteID]
	if !ok {
		return domain.UserCredential{}, fmt.Errorf("athlete %d: %w", athleteID, domain.ErrCredentialNotFound)
	}
	return c, nil
}

func (s *TokenStore) SaveCredential(_ context.Context, cred domain.UserCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[cred.AthleteID] = cred
	return nil
}

func (s *TokenStore) Ping(context.Context) error { return nil }

func (s *TokenStore) Close() error { return nil }
