// Package postgres stores credentials and authorization states in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS athlete_credentials (
	athlete_id      BIGINT PRIMARY KEY,
	access_token    TEXT NOT NULL,
	refresh_token   TEXT NOT NULL,
	access_expiry   TIMESTAMPTZ NOT NULL,
	last_updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS oauth_states (
	state_token TEXT PRIMARY KEY,
	issued_at   TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS oauth_states_expires_at_idx ON oauth_states (expires_at);
`

// Store implements the token and state stores on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, athleteID int64) (domain.UserCredential, error) {
	const q = `SELECT access_token, refresh_token, access_expiry, last_updated_at
		FROM athlete_credentials WHERE athlete_id = $1`

	c := domain.UserCredential{AthleteID: athleteID}
	err := s.pool.QueryRow(ctx, q, athleteID).Scan(&c.AccessToken, &c.RefreshToken, &c.AccessExpiry, &c.LastUpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserCredential{}, fmt.Errorf("athlete %d: %w", athleteID, domain.ErrCredentialNotFound)
	}
	if err != nil {
		return domain.UserCredential{}, fmt.Errorf("query credential: %w", err)
	}
	c.AccessExpiry = c.AccessExpiry.UTC()
	c.LastUpdatedAt = c.LastUpdatedAt.UTC()
	return c, nil
}

func (s *Store) SaveCredential(ctx context.Context, cred domain.UserCredential) error {
	const q = `INSERT INTO athlete_credentials (athlete_id, access_token, refresh_token, access_expiry, last_updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (athlete_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			access_expiry = EXCLUDED.access_expiry,
			last_updated_at = EXCLUDED.last_updated_at`

	if _, err := s.pool.Exec(ctx, q, cred.AthleteID, cred.AccessToken, cred.RefreshToken, cred.AccessExpiry, cred.LastUpdatedAt); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *Store) IssueState(ctx context.Context, state domain.AuthorizationState) error {
	const q = `INSERT INTO oauth_states (state_token, issued_at, expires_at) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, state.Token, state.IssuedAt, state.ExpiresAt); err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	return nil
}

func (s *Store) ConsumeState(ctx context.Context, token string, now time.Time) error {
	const q = `DELETE FROM oauth_states WHERE state_token = $1 RETURNING expires_at`

	var expiresAt time.Time
	err := s.pool.QueryRow(ctx, q, token).Scan(&expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAuthStateInvalid
	}
	if err != nil {
		return fmt.Errorf("consume state: %w", err)
	}
	if !now.Before(expiresAt) {
		return domain.ErrAuthStateInvalid
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired states: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
