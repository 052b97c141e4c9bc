package processor_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/processor"
)

const (
	athleteID   = int64(134815)
	activityID  = int64(12345678987654321)
	accessToken = "a4b945687g"
	marker      = domain.ManualMarker("#avy")
)

var (
	format = domain.MarkerFormat{
		PermalinkBase: "https://api.avalanche.org/v2/public/product/",
		Attribution:   "Forecast courtesy of avalanche.org",
	}
	stevens = &domain.Coordinate{Lat: 47.7448, Lon: -121.0890}

	stevensForecast = domain.Forecast{
		Status:       domain.ForecastAvailable,
		ZoneName:     "Stevens Pass",
		Summary:      "Considerable (3) above treeline, Moderate (2) near treeline, Low (1) below treeline",
		ProductID:    "166378",
		PermalinkURL: "https://api.avalanche.org/v2/public/product/166378",
	}
)

// --- fakes ---

type fakeTokens struct {
	err error
}

func (f *fakeTokens) AccessToken(_ context.Context, id int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if id != athleteID {
		return "", domain.ErrCredentialNotFound
	}
	return accessToken, nil
}

// fakeStrava applies updates to its stored activity the way the API would,
// so a second delivery observes the first one's write.
type fakeStrava struct {
	mu        sync.Mutex
	activity  domain.ActivityRecord
	getErr    error
	updateErr error
	updates   []domain.ActivityUpdate
}

func (f *fakeStrava) GetActivity(_ context.Context, token string, id int64) (domain.ActivityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token != accessToken {
		return domain.ActivityRecord{}, errors.New("unauthorized")
	}
	if f.getErr != nil {
		return domain.ActivityRecord{}, f.getErr
	}
	if id != f.activity.ID {
		return domain.ActivityRecord{}, domain.ErrActivityNotFound
	}
	return f.activity, nil
}

func (f *fakeStrava) UpdateActivity(_ context.Context, _ string, _ int64, u domain.ActivityUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, u)
	if u.Title != nil {
		f.activity.Title = *u.Title
	}
	f.activity.Description = u.Description
	return nil
}

type fakeForecaster struct {
	fc    domain.Forecast
	err   error
	calls []string
}

func (f *fakeForecaster) Lookup(_ context.Context, _ domain.Coordinate, date string) (domain.Forecast, error) {
	f.calls = append(f.calls, date)
	return f.fc, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	strava     *fakeStrava
	forecaster *fakeForecaster
	tokens     *fakeTokens
	metrics    *observability.Metrics
	proc       *processor.Processor
}

func newHarness(a domain.ActivityRecord) *harness {
	h := &harness{
		strava:     &fakeStrava{activity: a},
		forecaster: &fakeForecaster{fc: stevensForecast},
		tokens:     &fakeTokens{},
		metrics:    observability.NewMetricsForTesting(),
	}
	h.proc = processor.New(h.tokens, h.strava, h.forecaster, marker, format, h.metrics, discardLogger())
	return h
}

func backcountryActivity() domain.ActivityRecord {
	return domain.ActivityRecord{
		ID:              activityID,
		AthleteID:       athleteID,
		ActivityType:    domain.ActivityTypeBackcountrySki,
		Title:           "Dawn patrol",
		Description:     "Great day.",
		StartTimeUTC:    "2025-04-09T14:30:00Z",
		StartTimeLocal:  "2025-04-09T07:30:00Z",
		StartCoordinate: stevens,
	}
}

func notification(aspect string) domain.WebhookNotification {
	return domain.WebhookNotification{
		ObjectType: domain.ObjectTypeActivity,
		ObjectID:   activityID,
		AspectType: aspect,
		OwnerID:    athleteID,
		EventTime:  1744209000,
	}
}

func expectedBlock(fc domain.Forecast, date string) string {
	return "Avalanche forecast for " + fc.ZoneName + " on " + date + ": " + fc.Summary + "\n" +
		format.PermalinkBase + fc.ProductID + "\n" +
		format.Attribution
}

func ptr(s string) *string { return &s }

// --- tests ---

func TestProcess_AutoEnrich(t *testing.T) {
	h := newHarness(backcountryActivity())

	res := h.proc.Process(context.Background(), notification(domain.AspectTypeCreate))

	require.NoError(t, res.Err)
	assert.Equal(t, domain.BranchAutoEnrich, res.Branch)
	assert.True(t, res.Updated)
	require.Len(t, h.strava.updates, 1)
	want := domain.ActivityUpdate{Description: "Great day.\n\n" + expectedBlock(stevensForecast, "2025-04-09")}
	if diff := cmp.Diff(want, h.strava.updates[0]); diff != "" {
		t.Errorf("update mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"2025-04-09"}, h.forecaster.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.NotificationsProcessed.WithLabelValues("auto_enrich")), 0)
}

func TestProcess_IdempotentUnderRedelivery(t *testing.T) {
	h := newHarness(backcountryActivity())
	n := notification(domain.AspectTypeCreate)

	first := h.proc.Process(context.Background(), n)
	second := h.proc.Process(context.Background(), n)

	require.NoError(t, first.Err)
	require.NoError(t, second.Err)
	assert.Equal(t, domain.BranchAutoEnrich, first.Branch)
	assert.Equal(t, domain.BranchSkip, second.Branch)
	assert.False(t, second.Updated)
	assert.Len(t, h.strava.updates, 1)
	assert.Len(t, h.forecaster.calls, 1)
}

func TestProcess_Skips(t *testing.T) {
	tests := []struct {
		name   string
		aspect string
		mutate func(*domain.ActivityRecord)
	}{
		{"create of other activity type", domain.AspectTypeCreate, func(a *domain.ActivityRecord) { a.ActivityType = "Run" }},
		{"update without marker", domain.AspectTypeUpdate, func(*domain.ActivityRecord) {}},
		{"marker is case-sensitive", domain.AspectTypeUpdate, func(a *domain.ActivityRecord) { a.Title = "Dawn patrol #AVY" }},
		{"auto without location", domain.AspectTypeCreate, func(a *domain.ActivityRecord) { a.StartCoordinate = nil }},
		{"already enriched", domain.AspectTypeCreate, func(a *domain.ActivityRecord) {
			a.Description = "Great day.\n\n" + expectedBlock(stevensForecast, "2025-04-09")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := backcountryActivity()
			tt.mutate(&a)
			h := newHarness(a)

			res := h.proc.Process(context.Background(), notification(tt.aspect))

			require.NoError(t, res.Err)
			assert.Equal(t, domain.BranchSkip, res.Branch)
			assert.Empty(t, h.strava.updates)
			assert.Empty(t, h.forecaster.calls)
		})
	}
}

func TestProcess_ManualEnrich(t *testing.T) {
	a := backcountryActivity()
	a.ActivityType = "Hike"
	a.Title = "Snowshoe #avy to the lake"
	h := newHarness(a)

	res := h.proc.Process(context.Background(), notification(domain.AspectTypeUpdate))

	require.NoError(t, res.Err)
	assert.Equal(t, domain.BranchManualEnrich, res.Branch)
	require.Len(t, h.strava.updates, 1)
	want := domain.ActivityUpdate{
		Title:       ptr("Snowshoe to the lake"),
		Description: "Great day.\n\n" + expectedBlock(stevensForecast, "2025-04-09"),
	}
	if diff := cmp.Diff(want, h.strava.updates[0]); diff != "" {
		t.Errorf("update mismatch (-want +got):\n%s", diff)
	}

	// Our own update produces another update notification; the marker is gone.
	again := h.proc.Process(context.Background(), notification(domain.AspectTypeUpdate))
	assert.Equal(t, domain.BranchSkip, again.Branch)
	assert.Len(t, h.strava.updates, 1)
}

func TestProcess_ManualRefreshReplacesForecast(t *testing.T) {
	old := stevensForecast
	old.ProductID = "166377"
	old.Summary = "Moderate (2) above treeline, Moderate (2) near treeline, Low (1) below treeline"

	a := backcountryActivity()
	a.Title = "Dawn patrol #avy"
	a.Description = "Great day.\n\n" + expectedBlock(old, "2025-04-08")
	h := newHarness(a)

	res := h.proc.Process(context.Background(), notification(domain.AspectTypeUpdate))

	require.NoError(t, res.Err)
	assert.Equal(t, domain.BranchManualRefresh, res.Branch)
	require.Len(t, h.strava.updates, 1)
	got := h.strava.updates[0]
	assert.Equal(t, "Dawn patrol", *got.Title)
	assert.Equal(t, "Great day.\n\n"+expectedBlock(stevensForecast, "2025-04-09"), got.Description)
	assert.NotContains(t, got.Description, "166377")
	assert.Contains(t, got.Description, "https://api.avalanche.org/v2/public/product/166378")
}

func TestProcess_ManualNoLocation(t *testing.T) {
	a := backcountryActivity()
	a.Title = "#avy Treadmill"
	a.StartCoordinate = nil
	h := newHarness(a)

	res := h.proc.Process(context.Background(), notification(domain.AspectTypeUpdate))

	require.NoError(t, res.Err)
	assert.Equal(t, domain.BranchManualNoLocation, res.Branch)
	assert.Empty(t, h.forecaster.calls, "forecaster must not be called without a location")
	require.Len(t, h.strava.updates, 1)
	want := domain.ActivityUpdate{
		Title:       ptr("Treadmill"),
		Description: "Great day.\n\n" + domain.NoLocationNote,
	}
	assert.Equal(t, want, h.strava.updates[0])
}

func TestProcess_ManualTitleOnlyMarker(t *testing.T) {
	a := backcountryActivity()
	a.Title = " #avy "
	h := newHarness(a)

	res := h.proc.Process(context.Background(), notification(domain.AspectTypeUpdate))

	require.NoError(t, res.Err)
	require.Len(t, h.strava.updates, 1)
	assert.Equal(t, "Activity", *h.strava.updates[0].Title)
}

func TestProcess_ForecastMissing(t *testing.T) {
	tests := []struct {
		name     string
		fc       domain.Forecast
		err      error
		wantNote string
	}{
		{
			name:     "not published",
			fc:       domain.NotAvailable("no forecast was published for Stevens Pass on 2025-04-09"),
			wantNote: "[Avalanche forecast unavailable: no forecast was published for Stevens Pass on 2025-04-09.]",
		},
		{
			name:     "outside coverage",
			fc:       domain.OutsideCoverage(),
			wantNote: "[Avalanche forecast unavailable: no avalanche forecast zone covers this location.]",
		},
		{
			name:     "lookup error",
			err:      errors.New("connection refused"),
			wantNote: "[Avalanche forecast unavailable: the forecast service could not be reached.]",
		},
		{
			name:     "zero value",
			fc:       domain.Forecast{},
			wantNote: "[Avalanche forecast unavailable: no forecast was available.]",
		},
		{
			name:     "available without product id",
			fc:       domain.Forecast{Status: domain.ForecastAvailable, ZoneName: "Stevens Pass", Summary: "Low (1) above treeline"},
			wantNote: "[Avalanche forecast unavailable: no forecast was available.]",
		},
	}

	for _, tt := range tests {
		t.Run("manual "+tt.name, func(t *testing.T) {
			a := backcountryActivity()
			a.Title = "Dawn patrol #avy"
			h := newHarness(a)
			h.forecaster.fc, h.forecaster.err = tt.fc, tt.err

			res := h.proc.Process(context.Background(), notification(domain.AspectTypeUpdate))

			require.NoError(t, res.Err)
			assert.True(t, res.Updated)
			require.Len(t, h.strava.updates, 1)
			assert.Equal(t, "Great day.\n\n"+tt.wantNote, h.strava.updates[0].Description)
			assert.Equal(t, "Dawn patrol", *h.strava.updates[0].Title)
		})

		t.Run("auto "+tt.name, func(t *testing.T) {
			h := newHarness(backcountryActivity())
			h.forecaster.fc, h.forecaster.err = tt.fc, tt.err

			res := h.proc.Process(context.Background(), notification(domain.AspectTypeCreate))

			require.NoError(t, res.Err)
			assert.Equal(t, domain.BranchAutoEnrich, res.Branch)
			assert.False(t, res.Updated)
			assert.Empty(t, h.strava.updates)
		})
	}
}

func TestProcess_TargetDateFallsBackToUTC(t *testing.T) {
	a := backcountryActivity()
	a.StartTimeLocal = ""
	a.StartTimeUTC = "2025-04-10T14:30:00Z"
	h := newHarness(a)

	res := h.proc.Process(context.Background(), notification(domain.AspectTypeCreate))

	require.NoError(t, res.Err)
	assert.Equal(t, []string{"2025-04-10"}, h.forecaster.calls)
}

func TestProcess_LocalDateWinsOverUTC(t *testing.T) {
	a := backcountryActivity()
	a.StartTimeLocal = "2025-04-09T23:30:00Z"
	a.StartTimeUTC = "2025-04-10T06:30:00Z"
	h := newHarness(a)

	h.proc.Process(context.Background(), notification(domain.AspectTypeCreate))

	assert.Equal(t, []string{"2025-04-09"}, h.forecaster.calls)
}

func TestProcess_Errors(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*harness)
		n         domain.WebhookNotification
		wantErr   error
		wantRetry bool
		wantKind  string
	}{
		{
			name:     "athlete never connected",
			setup:    func(*harness) {},
			n:        func() domain.WebhookNotification { n := notification(domain.AspectTypeCreate); n.OwnerID = 1; return n }(),
			wantErr:  domain.ErrCredentialNotFound,
			wantKind: "credential_not_found",
		},
		{
			name:      "token refresh rejected",
			setup:     func(h *harness) { h.tokens.err = domain.ErrTokenRefreshFailed },
			n:         notification(domain.AspectTypeCreate),
			wantErr:   domain.ErrTokenRefreshFailed,
			wantRetry: true,
			wantKind:  "token_refresh_failed",
		},
		{
			name:      "activity fetch failed",
			setup:     func(h *harness) { h.strava.getErr = domain.ErrActivityFetchFailed },
			n:         notification(domain.AspectTypeCreate),
			wantErr:   domain.ErrActivityFetchFailed,
			wantRetry: true,
			wantKind:  "activity_fetch_failed",
		},
		{
			name:     "activity deleted",
			setup:    func(*harness) {},
			n:        func() domain.WebhookNotification { n := notification(domain.AspectTypeCreate); n.ObjectID = 7; return n }(),
			wantErr:  domain.ErrActivityNotFound,
			wantKind: "activity_not_found",
		},
		{
			name:      "update failed",
			setup:     func(h *harness) { h.strava.updateErr = domain.ErrExternalUpdateFailed },
			n:         notification(domain.AspectTypeCreate),
			wantErr:   domain.ErrExternalUpdateFailed,
			wantRetry: true,
			wantKind:  "external_update_failed",
		},
		{
			name:     "activity deleted before update",
			setup:    func(h *harness) { h.strava.updateErr = fmt.Errorf("%w: status 404", domain.ErrActivityNotFound) },
			n:        notification(domain.AspectTypeCreate),
			wantErr:  domain.ErrActivityNotFound,
			wantKind: "activity_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(backcountryActivity())
			tt.setup(h)

			res := h.proc.Process(context.Background(), tt.n)

			require.ErrorIs(t, res.Err, tt.wantErr)
			assert.Equal(t, tt.wantRetry, res.Retry)
			assert.False(t, res.Updated)
			retry := "false"
			if tt.wantRetry {
				retry = "true"
			}
			assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.ProcessingErrors.WithLabelValues(tt.wantKind, retry)), 0)
		})
	}
}
