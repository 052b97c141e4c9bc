// Package processor turns one queued Strava notification into at most one
// activity update carrying the avalanche forecast for the activity's start
// point and date.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
)

// fallbackTitle replaces a title that was nothing but the manual marker.
// Strava rejects empty names, and leaving the marker would re-trigger
// enrichment on the resulting update notification.
const fallbackTitle = "Activity"

// TokenSource resolves a usable access token for an athlete.
type TokenSource interface {
	AccessToken(ctx context.Context, athleteID int64) (string, error)
}

// ActivityAPI reads and writes Strava activities.
type ActivityAPI interface {
	GetActivity(ctx context.Context, accessToken string, activityID int64) (domain.ActivityRecord, error)
	UpdateActivity(ctx context.Context, accessToken string, activityID int64, update domain.ActivityUpdate) error
}

// Processor applies the enrichment rules to a single notification. It holds
// no per-activity state: every attempt re-reads the activity, so a
// redelivered notification for an already enriched activity is a no-op.
type Processor struct {
	tokens     TokenSource
	activities ActivityAPI
	forecaster domain.Forecaster
	manual     domain.ManualMarker
	format     domain.MarkerFormat
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// New creates a Processor.
func New(tokens TokenSource, activities ActivityAPI, forecaster domain.Forecaster, manual domain.ManualMarker, format domain.MarkerFormat, metrics *observability.Metrics, logger *slog.Logger) *Processor {
	return &Processor{
		tokens:     tokens,
		activities: activities,
		forecaster: forecaster,
		manual:     manual,
		format:     format,
		metrics:    metrics,
		logger:     logger,
	}
}

// Process handles one notification and reports how it ended.
func (p *Processor) Process(ctx context.Context, n domain.WebhookNotification) domain.Result {
	logger := p.logger.With("activity_id", n.ObjectID, "athlete_id", n.OwnerID, "aspect_type", n.AspectType)

	res := p.process(ctx, n, logger)
	if res.OK() {
		p.metrics.NotificationsProcessed.WithLabelValues(string(res.Branch)).Inc()
		logger.Info("notification processed", "branch", res.Branch, "updated", res.Updated)
		return res
	}

	kind := domain.ErrorKind(res.Err)
	p.metrics.ProcessingErrors.WithLabelValues(kind, strconv.FormatBool(res.Retry)).Inc()
	logger.Warn("notification processing failed", "branch", res.Branch, "kind", kind, "retry", res.Retry, "error", res.Err)
	return res
}

func (p *Processor) process(ctx context.Context, n domain.WebhookNotification, logger *slog.Logger) domain.Result {
	token, err := p.tokens.AccessToken(ctx, n.OwnerID)
	if errors.Is(err, domain.ErrCredentialNotFound) {
		return domain.Terminal(domain.BranchSkip, fmt.Errorf("athlete %d: %w", n.OwnerID, err))
	}
	if err != nil {
		return domain.Retryable(domain.BranchSkip, fmt.Errorf("resolve access token: %w", err))
	}

	activity, err := p.activities.GetActivity(ctx, token, n.ObjectID)
	if errors.Is(err, domain.ErrActivityNotFound) {
		return domain.Terminal(domain.BranchSkip, err)
	}
	if err != nil {
		return domain.Retryable(domain.BranchSkip, err)
	}

	d := domain.Decide(n, activity, p.manual, p.format)
	if !d.ShouldProcess {
		return domain.Done(domain.BranchSkip, false)
	}

	if activity.StartCoordinate == nil {
		if !d.HasManualCommand {
			logger.Debug("activity has no location, skipping")
			return domain.Done(domain.BranchSkip, false)
		}
		return p.update(ctx, token, activity, domain.BranchManualNoLocation, p.manualTitle(activity.Title),
			domain.AppendNote(activity.Description, domain.NoLocationNote))
	}

	if d.HasExistingForecastMarker && !d.HasManualCommand {
		return domain.Done(domain.BranchSkip, false)
	}

	branch := domain.BranchAutoEnrich
	description := activity.Description
	switch {
	case d.HasManualCommand && d.HasExistingForecastMarker:
		branch = domain.BranchManualRefresh
		description = p.format.Strip(description)
	case d.HasManualCommand:
		branch = domain.BranchManualEnrich
	}

	fc, ok := p.lookup(ctx, activity, d.TargetDate, logger)
	switch {
	case ok:
		description = p.format.AppendForecast(description, fc, d.TargetDate)
	case d.HasManualCommand:
		description = domain.AppendNote(description, domain.UnavailableNote(fc.Reason))
	default:
		return domain.Done(branch, false)
	}

	var title *string
	if d.HasManualCommand {
		title = p.manualTitle(activity.Title)
	}
	return p.update(ctx, token, activity, branch, title, description)
}

// lookup resolves the forecast for the activity. ok is false when nothing can
// be appended; fc.Reason then explains why.
func (p *Processor) lookup(ctx context.Context, a domain.ActivityRecord, date string, logger *slog.Logger) (domain.Forecast, bool) {
	if date == "" {
		return domain.NotAvailable("the activity start date is unknown"), false
	}

	fc, err := p.forecaster.Lookup(ctx, *a.StartCoordinate, date)
	if err != nil {
		logger.Warn("forecast lookup failed", "date", date, "error", err)
		return domain.NotAvailable("the forecast service could not be reached"), false
	}
	if !fc.Usable() {
		logger.Debug("no forecast for activity", "date", date, "status", fc.Status, "reason", fc.Reason)
		return fc, false
	}
	return fc, true
}

func (p *Processor) manualTitle(title string) *string {
	stripped := p.manual.Strip(title)
	if stripped == "" {
		stripped = fallbackTitle
	}
	return &stripped
}

func (p *Processor) update(ctx context.Context, token string, a domain.ActivityRecord, branch domain.Branch, title *string, description string) domain.Result {
	update := domain.ActivityUpdate{Title: title, Description: description}
	err := p.activities.UpdateActivity(ctx, token, a.ID, update)
	if errors.Is(err, domain.ErrActivityNotFound) {
		return domain.Terminal(branch, err)
	}
	if err != nil {
		return domain.Retryable(branch, err)
	}
	return domain.Done(branch, true)
}
