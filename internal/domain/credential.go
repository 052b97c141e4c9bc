package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

const redacted = "[REDACTED]"

// UserCredential is the stored Strava token pair for one athlete. The refresh
// token is single-use: every refresh replaces both tokens together.
type UserCredential struct {
	AthleteID     int64
	AccessToken   string
	RefreshToken  string
	AccessExpiry  time.Time
	LastUpdatedAt time.Time
}

// ExpiresWithin reports whether the access token expires at or before now+margin.
func (c UserCredential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return c.AccessExpiry.Unix() <= now.Add(margin).Unix()
}

// LogValue keeps token values out of structured logs.
func (c UserCredential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("athlete_id", c.AthleteID),
		slog.String("access_token", redacted),
		slog.String("refresh_token", redacted),
		slog.Time("access_expiry", c.AccessExpiry),
		slog.Time("last_updated_at", c.LastUpdatedAt),
	)
}

func (c UserCredential) String() string {
	return fmt.Sprintf("UserCredential{AthleteID: %d, AccessExpiry: %s}", c.AthleteID, c.AccessExpiry.Format(time.RFC3339))
}

// GoString keeps %#v from printing token values.
func (c UserCredential) GoString() string { return c.String() }

// TokenGrant is a token pair issued by the identity provider, either from an
// authorization code exchange or a refresh.
type TokenGrant struct {
	AthleteID    int64
	AthleteName  string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Credential converts the grant into a storable credential.
func (g TokenGrant) Credential(athleteID int64, now time.Time) UserCredential {
	return UserCredential{
		AthleteID:     athleteID,
		AccessToken:   g.AccessToken,
		RefreshToken:  g.RefreshToken,
		AccessExpiry:  g.ExpiresAt.UTC(),
		LastUpdatedAt: now.UTC(),
	}
}

// LogValue keeps token values out of structured logs.
func (g TokenGrant) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("athlete_id", g.AthleteID),
		slog.String("access_token", redacted),
		slog.String("refresh_token", redacted),
		slog.Time("expires_at", g.ExpiresAt),
	)
}

func (g TokenGrant) String() string {
	return fmt.Sprintf("TokenGrant{AthleteID: %d, ExpiresAt: %s}", g.AthleteID, g.ExpiresAt.Format(time.RFC3339))
}

// GoString keeps %#v from printing token values.
func (g TokenGrant) GoString() string { return g.String() }

// StateTTL is how long an authorization state token stays valid.
const StateTTL = 5 * time.Minute

// stateBytes is the entropy of a state token: 256 bits.
const stateBytes = 32

// AuthorizationState is a single-use CSRF token binding a callback to the
// request that initiated it.
type AuthorizationState struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewAuthorizationState draws a fresh 256-bit hex-encoded state token.
func NewAuthorizationState(now time.Time, ttl time.Duration) (AuthorizationState, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return AuthorizationState{}, fmt.Errorf("generate state token: %w", err)
	}
	return AuthorizationState{
		Token:     hex.EncodeToString(buf),
		IssuedAt:  now.UTC(),
		ExpiresAt: now.Add(ttl).UTC(),
	}, nil
}

// Expired reports whether the state is no longer usable at now.
func (s AuthorizationState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
