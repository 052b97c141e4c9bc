package token

import (
	"context"
	"errors"
	"io"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/store/memory"
)

var now = time.Date(2025, 4, 9, 12, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	calls int
	got   string
	grant domain.TokenGrant
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (domain.TokenGrant, error) {
	f.calls++
	f.got = refreshToken
	return f.grant, f.err
}

type failingStore struct {
	*memory.TokenStore
	saveErr error
	getErr  error
}

func (s *failingStore) GetCredential(ctx context.Context, id int64) (domain.UserCredential, error) {
	if s.getErr != nil {
		return domain.UserCredential{}, s.getErr
	}
	return s.TokenStore.GetCredential(ctx, id)
}

func (s *failingStore) SaveCredential(ctx context.Context, c domain.UserCredential) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.TokenStore.SaveCredential(ctx, c)
}

// rotatingRefresher issues a new pair on every call, as Strava does.
type rotatingRefresher struct {
	mu   sync.Mutex
	seen []string
}

func (r *rotatingRefresher) Refresh(_ context.Context, refreshToken string) (domain.TokenGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, refreshToken)
	n := len(r.seen)
	return domain.TokenGrant{
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
		ExpiresAt:    now.Add(6 * time.Hour),
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T, s CredentialStore, expiry time.Time) {
	t.Helper()
	require.NoError(t, s.SaveCredential(context.Background(), domain.UserCredential{
		AthleteID:     42,
		AccessToken:   "old-access",
		RefreshToken:  "old-refresh",
		AccessExpiry:  expiry,
		LastUpdatedAt: now.Add(-5 * time.Hour),
	}))
}

func newManager(s CredentialStore, r Refresher) (*Manager, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	return NewManager(s, r, clockwork.NewFakeClockAt(now), metrics, discardLogger()), metrics
}

func TestAccessToken_StillValid(t *testing.T) {
	s := memory.NewTokenStore()
	seed(t, s, now.Add(61*time.Minute))
	r := &fakeRefresher{}
	m, _ := newManager(s, r)

	tok, err := m.AccessToken(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, "old-access", tok)
	assert.Zero(t, r.calls)
}

func TestAccessToken_RefreshesInsideMargin(t *testing.T) {
	s := memory.NewTokenStore()
	seed(t, s, now.Add(59*time.Minute))
	r := &fakeRefresher{grant: domain.TokenGrant{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: now.Add(6 * time.Hour)}}
	m, metrics := newManager(s, r)

	tok, err := m.AccessToken(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, "new-access", tok)
	assert.Equal(t, "old-refresh", r.got)

	stored, err := s.GetCredential(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, "new-refresh", stored.RefreshToken)
	assert.Equal(t, now.Add(6*time.Hour), stored.AccessExpiry)
	assert.Equal(t, now, stored.LastUpdatedAt)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.TokenRefreshes.WithLabelValues("success")), 0)
}

func TestAccessToken_RefreshesExpired(t *testing.T) {
	s := memory.NewTokenStore()
	seed(t, s, now.Add(-time.Hour))
	r := &fakeRefresher{grant: domain.TokenGrant{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: now.Add(6 * time.Hour)}}
	m, _ := newManager(s, r)

	tok, err := m.AccessToken(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok)
	assert.Equal(t, 1, r.calls)
}

func TestAccessToken_NotFound(t *testing.T) {
	m, _ := newManager(memory.NewTokenStore(), &fakeRefresher{})

	_, err := m.AccessToken(context.Background(), 42)
	require.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

func TestAccessToken_StoreDown(t *testing.T) {
	s := &failingStore{TokenStore: memory.NewTokenStore(), getErr: errors.New("connection refused")}
	m, _ := newManager(s, &fakeRefresher{})

	_, err := m.AccessToken(context.Background(), 42)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestAccessToken_RefreshRejected(t *testing.T) {
	s := memory.NewTokenStore()
	seed(t, s, now)
	r := &fakeRefresher{err: domain.ErrTokenRefreshFailed}
	m, metrics := newManager(s, r)

	_, err := m.AccessToken(context.Background(), 42)
	require.ErrorIs(t, err, domain.ErrTokenRefreshFailed)

	stored, err := s.GetCredential(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "old-refresh", stored.RefreshToken, "failed refresh must not touch the stored pair")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.TokenRefreshes.WithLabelValues("error")), 0)
}

func TestRefresh_PersistFailure(t *testing.T) {
	s := &failingStore{TokenStore: memory.NewTokenStore()}
	seed(t, s, now)
	s.saveErr = errors.New("disk full")
	r := &fakeRefresher{grant: domain.TokenGrant{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Hour)}}
	m, _ := newManager(s, r)

	_, err := m.AccessToken(context.Background(), 42)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestRefresh_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	s := memory.NewTokenStore()
	r := &fakeRefresher{grant: domain.TokenGrant{AccessToken: "a2", ExpiresAt: now.Add(time.Hour * 6)}}
	m, _ := newManager(s, r)

	got, err := m.Refresh(context.Background(), domain.UserCredential{AthleteID: 5, RefreshToken: "keep-me"})
	require.NoError(t, err)
	assert.Equal(t, "keep-me", got.RefreshToken)
}

func TestRefresh_ConcurrentRefreshesBothSucceed(t *testing.T) {
	s := memory.NewTokenStore()
	seed(t, s, now.Add(30*time.Minute))
	cred, err := s.GetCredential(context.Background(), 42)
	require.NoError(t, err)
	r := &rotatingRefresher{}
	m, metrics := newManager(s, r)

	var wg sync.WaitGroup
	results := make([]domain.UserCredential, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.Refresh(context.Background(), cred)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, []string{"old-refresh", "old-refresh"}, r.seen)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.TokenRefreshes.WithLabelValues("success")), 0)

	// The last save wins and the stored pair is never mixed across grants.
	stored, err := s.GetCredential(context.Background(), 42)
	require.NoError(t, err)
	assert.Contains(t, []string{results[0].AccessToken, results[1].AccessToken}, stored.AccessToken)
	assert.Equal(t, "refresh-"+stored.AccessToken[len("access-"):], stored.RefreshToken)
}
