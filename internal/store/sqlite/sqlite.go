// Package sqlite stores credentials and authorization states in a local
// SQLite file. It suits single-instance deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

// Store implements the token and state stores on one database handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows one writer; a single shared connection avoids SQLITE_BUSY
	// inside the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := execStatements(ctx, db,
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=15000;`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite pragmas: %w", err)
	}

	if err := execStatements(ctx, db,
		`CREATE TABLE IF NOT EXISTS credentials (
			athlete_id INTEGER PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			access_expiry_ms INTEGER NOT NULL,
			last_updated_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS auth_states (
			state_token TEXT PRIMARY KEY,
			issued_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_auth_states_expires ON auth_states (expires_at_ms);`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func execStatements(ctx context.Context, db *sql.DB, statements ...string) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, athleteID int64) (domain.UserCredential, error) {
	const q = `SELECT access_token, refresh_token, access_expiry_ms, last_updated_ms
		FROM credentials WHERE athlete_id = ?`

	c := domain.UserCredential{AthleteID: athleteID}
	var expiry, updated int64
	err := s.db.QueryRowContext(ctx, q, athleteID).Scan(&c.AccessToken, &c.RefreshToken, &expiry, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserCredential{}, fmt.Errorf("athlete %d: %w", athleteID, domain.ErrCredentialNotFound)
	}
	if err != nil {
		return domain.UserCredential{}, fmt.Errorf("query credential: %w", err)
	}
	c.AccessExpiry = time.UnixMilli(expiry).UTC()
	c.LastUpdatedAt = time.UnixMilli(updated).UTC()
	return c, nil
}

func (s *Store) SaveCredential(ctx context.Context, cred domain.UserCredential) error {
	const q = `INSERT INTO credentials (athlete_id, access_token, refresh_token, access_expiry_ms, last_updated_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (athlete_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			access_expiry_ms = excluded.access_expiry_ms,
			last_updated_ms = excluded.last_updated_ms`

	_, err := s.db.ExecContext(ctx, q,
		cred.AthleteID,
		cred.AccessToken,
		cred.RefreshToken,
		cred.AccessExpiry.UnixMilli(),
		cred.LastUpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *Store) IssueState(ctx context.Context, state domain.AuthorizationState) error {
	const q = `INSERT INTO auth_states (state_token, issued_at_ms, expires_at_ms) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, state.Token, state.IssuedAt.UnixMilli(), state.ExpiresAt.UnixMilli()); err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	return nil
}

func (s *Store) ConsumeState(ctx context.Context, token string, now time.Time) error {
	const q = `DELETE FROM auth_states WHERE state_token = ? RETURNING expires_at_ms`

	var expiresAt int64
	err := s.db.QueryRowContext(ctx, q, token).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrAuthStateInvalid
	}
	if err != nil {
		return fmt.Errorf("consume state: %w", err)
	}
	if now.UnixMilli() >= expiresAt {
		return domain.ErrAuthStateInvalid
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_states WHERE expires_at_ms <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired states: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }
