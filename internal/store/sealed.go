package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

// Sealer encrypts and decrypts short secrets bound to a context string.
type Sealer interface {
	Seal(plaintext, context string) (string, error)
	Open(sealed, context string) (string, error)
}

// SealedTokenStore encrypts both tokens before they reach the inner store.
type SealedTokenStore struct {
	inner  TokenStore
	sealer Sealer
}

// NewSealedTokenStore wraps inner.
func NewSealedTokenStore(inner TokenStore, sealer Sealer) *SealedTokenStore {
	return &SealedTokenStore{inner: inner, sealer: sealer}
}

func (s *SealedTokenStore) GetCredential(ctx context.Context, athleteID int64) (domain.UserCredential, error) {
	c, err := s.inner.GetCredential(ctx, athleteID)
	if err != nil {
		return domain.UserCredential{}, err
	}
	if c.AccessToken, err = s.sealer.Open(c.AccessToken, sealContext(athleteID, "access")); err != nil {
		return domain.UserCredential{}, fmt.Errorf("open access token: %w", err)
	}
	if c.RefreshToken, err = s.sealer.Open(c.RefreshToken, sealContext(athleteID, "refresh")); err != nil {
		return domain.UserCredential{}, fmt.Errorf("open refresh token: %w", err)
	}
	return c, nil
}

func (s *SealedTokenStore) SaveCredential(ctx context.Context, cred domain.UserCredential) error {
	var err error
	if cred.AccessToken, err = s.sealer.Seal(cred.AccessToken, sealContext(cred.AthleteID, "access")); err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	if cred.RefreshToken, err = s.sealer.Seal(cred.RefreshToken, sealContext(cred.AthleteID, "refresh")); err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	return s.inner.SaveCredential(ctx, cred)
}

func (s *SealedTokenStore) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

func (s *SealedTokenStore) Close() error { return s.inner.Close() }

func sealContext(athleteID int64, kind string) string {
	return "athlete:" + strconv.FormatInt(athleteID, 10) + ":" + kind
}
