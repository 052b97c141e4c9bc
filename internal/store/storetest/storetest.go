// Package storetest holds behavioral checks shared by every store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

// TokenStore is the credential contract exercised by TokenStoreContract.
type TokenStore interface {
	GetCredential(ctx context.Context, athleteID int64) (domain.UserCredential, error)
	SaveCredential(ctx context.Context, cred domain.UserCredential) error
}

// StateStore is the state contract exercised by StateStoreContract.
type StateStore interface {
	IssueState(ctx context.Context, state domain.AuthorizationState) error
	ConsumeState(ctx context.Context, token string, now time.Time) error
}

// Now is a fixed instant used by the contracts, truncated to the millisecond
// so every backend round-trips it exactly.
var Now = time.Date(2025, 4, 9, 12, 0, 0, 0, time.UTC)

// TokenStoreContract checks get/save semantics including overwrite.
func TokenStoreContract(t *testing.T, s TokenStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetCredential(ctx, 404)
		require.ErrorIs(t, err, domain.ErrCredentialNotFound)
	})

	t.Run("save and get", func(t *testing.T) {
		want := domain.UserCredential{
			AthleteID:     1001,
			AccessToken:   "access-1",
			RefreshToken:  "refresh-1",
			AccessExpiry:  Now.Add(6 * time.Hour),
			LastUpdatedAt: Now,
		}
		require.NoError(t, s.SaveCredential(ctx, want))

		got, err := s.GetCredential(ctx, want.AthleteID)
		require.NoError(t, err)
		assertCredential(t, want, got)
	})

	t.Run("overwrite replaces both tokens", func(t *testing.T) {
		first := domain.UserCredential{AthleteID: 1002, AccessToken: "a1", RefreshToken: "r1", AccessExpiry: Now, LastUpdatedAt: Now}
		second := domain.UserCredential{AthleteID: 1002, AccessToken: "a2", RefreshToken: "r2", AccessExpiry: Now.Add(time.Hour), LastUpdatedAt: Now.Add(time.Minute)}
		require.NoError(t, s.SaveCredential(ctx, first))
		require.NoError(t, s.SaveCredential(ctx, second))

		got, err := s.GetCredential(ctx, 1002)
		require.NoError(t, err)
		assertCredential(t, second, got)
	})
}

// StateStoreContract checks that states are single-use and expire.
func StateStoreContract(t *testing.T, s StateStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("unknown", func(t *testing.T) {
		require.ErrorIs(t, s.ConsumeState(ctx, "never-issued", Now), domain.ErrAuthStateInvalid)
	})

	t.Run("single use", func(t *testing.T) {
		st := state("single-use", Now)
		require.NoError(t, s.IssueState(ctx, st))

		require.NoError(t, s.ConsumeState(ctx, st.Token, Now.Add(time.Minute)))
		require.ErrorIs(t, s.ConsumeState(ctx, st.Token, Now.Add(time.Minute)), domain.ErrAuthStateInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		st := state("expired", Now)
		require.NoError(t, s.IssueState(ctx, st))

		require.ErrorIs(t, s.ConsumeState(ctx, st.Token, st.ExpiresAt), domain.ErrAuthStateInvalid)
	})

	t.Run("concurrent consume succeeds once", func(t *testing.T) {
		const consumers = 8
		for round := range 5 {
			st := state(fmt.Sprintf("concurrent-%d", round), Now)
			require.NoError(t, s.IssueState(ctx, st))

			var (
				wg    sync.WaitGroup
				start = make(chan struct{})
				errs  = make(chan error, consumers)
			)
			for range consumers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					errs <- s.ConsumeState(ctx, st.Token, Now.Add(time.Minute))
				}()
			}
			close(start)
			wg.Wait()
			close(errs)

			won := 0
			for err := range errs {
				if err == nil {
					won++
					continue
				}
				assert.ErrorIs(t, err, domain.ErrAuthStateInvalid)
			}
			assert.Equal(t, 1, won, "round %d", round)
		}
	})
}

// ExpiringStateStore adds sweeping to StateStore.
type ExpiringStateStore interface {
	StateStore
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepContract checks that DeleteExpired removes only expired states.
func SweepContract(t *testing.T, s ExpiringStateStore) {
	t.Helper()
	ctx := context.Background()

	old := state("sweep-old", Now.Add(-10*time.Minute))
	fresh := state("sweep-fresh", Now)
	require.NoError(t, s.IssueState(ctx, old))
	require.NoError(t, s.IssueState(ctx, fresh))

	n, err := s.DeleteExpired(ctx, Now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	require.NoError(t, s.ConsumeState(ctx, fresh.Token, Now))
	require.ErrorIs(t, s.ConsumeState(ctx, old.Token, Now.Add(-10*time.Minute)), domain.ErrAuthStateInvalid)
}

func state(token string, issued time.Time) domain.AuthorizationState {
	return domain.AuthorizationState{Token: token, IssuedAt: issued, ExpiresAt: issued.Add(domain.StateTTL)}
}

func assertCredential(t *testing.T, want, got domain.UserCredential) {
	t.Helper()
	assert.Equal(t, want.AthleteID, got.AthleteID)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.AccessExpiry.Equal(got.AccessExpiry), "access expiry: want %s got %s", want.AccessExpiry, got.AccessExpiry)
	assert.True(t, want.LastUpdatedAt.Equal(got.LastUpdatedAt), "last updated: want %s got %s", want.LastUpdatedAt, got.LastUpdatedAt)
}
