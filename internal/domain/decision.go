package domain

import (
	"fmt"
	"strings"
	"time"
)

// ProcessingDecision is recomputed from the freshly fetched activity on every
// delivery attempt. It is never persisted.
type ProcessingDecision struct {
	ShouldProcess             bool
	HasManualCommand          bool
	HasExistingForecastMarker bool
	TargetDate                string
}

// Decide evaluates a notification against the current activity state.
func Decide(n WebhookNotification, a ActivityRecord, manual ManualMarker, format MarkerFormat) ProcessingDecision {
	d := ProcessingDecision{HasManualCommand: manual.In(a.Title)}

	switch {
	case n.AspectType == AspectTypeCreate && a.ActivityType == ActivityTypeBackcountrySki:
		d.ShouldProcess = true
	case n.AspectType == AspectTypeUpdate && d.HasManualCommand:
		d.ShouldProcess = true
	}

	_, d.HasExistingForecastMarker = format.Find(a.Description)
	d.TargetDate, _ = ResolveTargetDate(a.StartTimeLocal, a.StartTimeUTC)
	return d
}

// ResolveTargetDate returns the civil date a forecast should be looked up for:
// the date component of the local start time, else the UTC date of the UTC
// start time.
func ResolveTargetDate(startLocal, startUTC string) (string, error) {
	if date, ok := localDate(startLocal); ok {
		return date, nil
	}
	if date, ok := utcDate(startUTC); ok {
		return date, nil
	}
	return "", fmt.Errorf("no usable start time (local=%q utc=%q)", startLocal, startUTC)
}

func localDate(ts string) (string, bool) {
	ts = strings.TrimSpace(ts)
	if len(ts) < len(time.DateOnly) {
		return "", false
	}
	if _, err := time.Parse(time.DateOnly, ts[:len(time.DateOnly)]); err != nil {
		return "", false
	}
	return ts[:len(time.DateOnly)], true
}

func utcDate(ts string) (string, bool) {
	ts = strings.TrimSpace(ts)
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.UTC().Format(time.DateOnly), true
	}
	return localDate(ts)
}
