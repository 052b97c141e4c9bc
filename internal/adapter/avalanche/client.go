// Package avalanche looks up public avalanche forecasts from the
// avalanche.org API: forecast zone polygons from the map layer and the
// forecast product for a zone and date.
package avalanche

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
)

// errNotPublished means the center has no forecast product for the zone and date.
var errNotPublished = errors.New("forecast not published")

// Client calls the avalanche.org public API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a client. baseURL is e.g. https://api.avalanche.org/v2/public.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics,
		logger:     logger,
	}
}

// MapLayer fetches every forecast zone polygon with its current properties.
func (c *Client) MapLayer(ctx context.Context) (*geojson.FeatureCollection, error) {
	body, err := c.get(ctx, c.baseURL+"/products/map-layer", "map_layer")
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("decode map layer: %w", err)
	}
	return fc, nil
}

// Product fetches the forecast product issued by centerID for zoneID on date.
func (c *Client) Product(ctx context.Context, centerID string, zoneID int64, date string) (Product, error) {
	params := url.Values{
		"type":      {"forecast"},
		"center_id": {centerID},
		"zone_id":   {fmt.Sprint(zoneID)},
		"date":      {date},
	}
	body, err := c.get(ctx, c.baseURL+"/product?"+params.Encode(), "product")
	if err != nil {
		return Product{}, err
	}

	var p Product
	if err := json.Unmarshal(body, &p); err != nil {
		return Product{}, fmt.Errorf("decode product: %w", err)
	}
	if p.ID == 0 {
		return Product{}, errNotPublished
	}
	return p, nil
}

func (c *Client) get(ctx context.Context, fullURL, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ForecastAPIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotPublished
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("avalanche API error: status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return body, nil
}

// avalanche.org API types.

// Product is a published forecast.
type Product struct {
	ID            int64          `json:"id"`
	PublishedTime string         `json:"published_time"`
	ExpiresTime   string         `json:"expires_time"`
	Danger        []DangerRating `json:"danger"`
	ForecastZone  []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"forecast_zone"`
}

// DangerRating holds the danger level for each elevation band on one day.
type DangerRating struct {
	Lower    int    `json:"lower"`
	Middle   int    `json:"middle"`
	Upper    int    `json:"upper"`
	ValidDay string `json:"valid_day"`
}
