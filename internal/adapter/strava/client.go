// Package strava talks to the Strava v3 REST API and its OAuth endpoints.
package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

// maxErrorBody caps how much of an error response is kept for the error message.
const maxErrorBody = 512

// Client reads and updates activities on behalf of an athlete.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Strava API client. baseURL is e.g. https://www.strava.com/api/v3.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// GetActivity fetches the current state of an activity.
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (domain.ActivityRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.activityURL(activityID), nil)
	if err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("%w: %w", domain.ErrActivityFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ActivityRecord{}, fmt.Errorf("%w: %w: activity %d", domain.ErrActivityFetchFailed, domain.ErrActivityNotFound, activityID)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.ActivityRecord{}, fmt.Errorf("%w: %w", domain.ErrActivityFetchFailed, apiError(resp))
	}

	var a activity
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("%w: decode activity: %w", domain.ErrActivityFetchFailed, err)
	}
	return a.toRecord(), nil
}

// UpdateActivity writes the title and description in one call.
func (c *Client) UpdateActivity(ctx context.Context, accessToken string, activityID int64, update domain.ActivityUpdate) error {
	body, err := json.Marshal(updatableActivity{Name: update.Title, Description: update.Description})
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.activityURL(activityID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrExternalUpdateFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w: activity %d", domain.ErrExternalUpdateFailed, domain.ErrActivityNotFound, activityID)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %w", domain.ErrExternalUpdateFailed, apiError(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("activity updated", "activity_id", activityID, "title_changed", update.Title != nil)
	return nil
}

func (c *Client) activityURL(id int64) string {
	return c.baseURL + "/activities/" + strconv.FormatInt(id, 10)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("strava API error: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

// Strava API types.

type activity struct {
	ID             int64     `json:"id"`
	Athlete        athlete   `json:"athlete"`
	Name           string    `json:"name"`
	Description    *string   `json:"description"`
	Type           string    `json:"type"`
	SportType      string    `json:"sport_type"`
	StartDate      string    `json:"start_date"`
	StartDateLocal string    `json:"start_date_local"`
	StartLatLng    []float64 `json:"start_latlng"`
}

type athlete struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

type updatableActivity struct {
	Name        *string `json:"name,omitempty"`
	Description string  `json:"description"`
}

func (a activity) toRecord() domain.ActivityRecord {
	rec := domain.ActivityRecord{
		ID:             a.ID,
		AthleteID:      a.Athlete.ID,
		ActivityType:   a.SportType,
		Title:          a.Name,
		StartTimeUTC:   a.StartDate,
		StartTimeLocal: a.StartDateLocal,
	}
	if rec.ActivityType == "" {
		rec.ActivityType = a.Type
	}
	if a.Description != nil {
		rec.Description = *a.Description
	}
	if len(a.StartLatLng) == 2 {
		rec.StartCoordinate = &domain.Coordinate{Lat: a.StartLatLng[0], Lon: a.StartLatLng[1]}
	}
	return rec
}
