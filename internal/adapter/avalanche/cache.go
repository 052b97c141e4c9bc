package avalanche

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
)

// Cache is the byte cache the forecaster reads through.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedForecaster wraps a Forecaster with a read-through cache.
type CachedForecaster struct {
	inner   domain.Forecaster
	cache   Cache
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewCachedForecaster creates a cache decorator around a forecaster.
func NewCachedForecaster(inner domain.Forecaster, cache Cache, ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *CachedForecaster {
	return &CachedForecaster{inner: inner, cache: cache, ttl: ttl, metrics: metrics, logger: logger}
}

func (c *CachedForecaster) Lookup(ctx context.Context, at domain.Coordinate, date string) (domain.Forecast, error) {
	key := cacheKey(at, date)

	if b, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("forecast cache read failed", "error", err)
	} else if ok {
		var fc domain.Forecast
		if err := json.Unmarshal(b, &fc); err == nil && settled(fc) {
			c.metrics.ForecastCache.WithLabelValues("hit").Inc()
			return fc, nil
		}
	}
	c.metrics.ForecastCache.WithLabelValues("miss").Inc()

	fc, err := c.inner.Lookup(ctx, at, date)
	if err != nil {
		return fc, err
	}
	// Unpublished forecasts may appear later in the day, so only settled
	// answers are cached.
	if !settled(fc) {
		return fc, nil
	}
	if b, err := json.Marshal(fc); err == nil {
		if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
			c.logger.Warn("forecast cache write failed", "error", err)
		}
	}
	return fc, nil
}

func settled(fc domain.Forecast) bool {
	return fc.Usable() || fc.Status == domain.ForecastOutsideCoverage
}

// cacheKey rounds to roughly 10 m so repeated starts from one trailhead share an entry.
func cacheKey(at domain.Coordinate, date string) string {
	return fmt.Sprintf("forecast:%.4f,%.4f|%s", at.Lat, at.Lon, date)
}
