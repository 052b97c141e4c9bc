// Package store defines the persistence contracts for athlete credentials,
// OAuth authorization states, and cached forecasts, and opens a backend for
// each from a DSN.
package store

import (
	"context"
	"time"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

// TokenStore persists one credential per athlete. Save is a full overwrite so
// a reconnect replaces whatever was stored before.
type TokenStore interface {
	// GetCredential returns domain.ErrCredentialNotFound when the athlete never connected.
	GetCredential(ctx context.Context, athleteID int64) (domain.UserCredential, error)
	SaveCredential(ctx context.Context, cred domain.UserCredential) error
	Ping(ctx context.Context) error
	Close() error
}

// StateStore holds single-use authorization state tokens.
type StateStore interface {
	IssueState(ctx context.Context, state domain.AuthorizationState) error
	// ConsumeState deletes the token and returns domain.ErrAuthStateInvalid
	// when it was unknown, already consumed, or expired at now.
	ConsumeState(ctx context.Context, token string, now time.Time) error
	Ping(ctx context.Context) error
	Close() error
}

// ExpiringStateStore is a StateStore without native expiry that needs
// periodic sweeping.
type ExpiringStateStore interface {
	StateStore
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Cache is a byte-oriented TTL cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// Pinger is anything whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
