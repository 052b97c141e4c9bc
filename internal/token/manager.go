// Package token hands out usable Strava access tokens, refreshing and
// persisting the rotated pair when the stored one is close to expiry.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
)

// RefreshMargin is how close to expiry an access token may get before it is refreshed.
const RefreshMargin = time.Hour

// CredentialStore is the subset of the token store the manager uses.
type CredentialStore interface {
	GetCredential(ctx context.Context, athleteID int64) (domain.UserCredential, error)
	SaveCredential(ctx context.Context, cred domain.UserCredential) error
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.TokenGrant, error)
}

// Manager resolves access tokens for athletes.
//
// Two workers may refresh the same credential at once. Both refreshes
// succeed and the last save wins. A third worker still holding the original,
// already expired access token can see a transient 401; it fails retryably
// and its redelivery reads the stored pair again.
type Manager struct {
	store     CredentialStore
	refresher Refresher
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewManager creates a Manager.
func NewManager(store CredentialStore, refresher Refresher, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		refresher: refresher,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// AccessToken returns a token valid for at least RefreshMargin, refreshing
// first when needed. It returns domain.ErrCredentialNotFound for athletes that
// never connected.
func (m *Manager) AccessToken(ctx context.Context, athleteID int64) (string, error) {
	cred, err := m.store.GetCredential(ctx, athleteID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return "", err
		}
		return "", fmt.Errorf("load credential: %w: %w", domain.ErrStoreUnavailable, err)
	}

	if !cred.ExpiresWithin(m.clock.Now(), RefreshMargin) {
		return cred.AccessToken, nil
	}

	refreshed, err := m.Refresh(ctx, cred)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh exchanges cred's refresh token and overwrites the stored pair.
func (m *Manager) Refresh(ctx context.Context, cred domain.UserCredential) (domain.UserCredential, error) {
	grant, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		m.metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return domain.UserCredential{}, fmt.Errorf("refresh athlete %d: %w", cred.AthleteID, err)
	}

	next := grant.Credential(cred.AthleteID, m.clock.Now())
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}

	if err := m.store.SaveCredential(ctx, next); err != nil {
		m.metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return domain.UserCredential{}, fmt.Errorf("persist refreshed credential: %w: %w", domain.ErrStoreUnavailable, err)
	}

	m.metrics.TokenRefreshes.WithLabelValues("success").Inc()
	m.logger.Info("access token refreshed", "athlete_id", cred.AthleteID, "expires_at", next.AccessExpiry)
	return next, nil
}
