package avalanche

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
)

// Locator resolves a coordinate to its forecast zone.
type Locator interface {
	Locate(ctx context.Context, at domain.Coordinate) (Zone, bool, error)
}

// ProductSource fetches forecast products.
type ProductSource interface {
	Product(ctx context.Context, centerID string, zoneID int64, date string) (Product, error)
}

// Forecaster implements domain.Forecaster on avalanche.org.
type Forecaster struct {
	zones         Locator
	products      ProductSource
	permalinkBase string
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// NewForecaster creates a Forecaster. permalinkBase prefixes product ids in
// the returned PermalinkURL.
func NewForecaster(zones Locator, products ProductSource, permalinkBase string, metrics *observability.Metrics, logger *slog.Logger) *Forecaster {
	return &Forecaster{
		zones:         zones,
		products:      products,
		permalinkBase: permalinkBase,
		metrics:       metrics,
		logger:        logger,
	}
}

// Lookup returns the forecast covering at on date. Missing products are
// reported as ForecastNotAvailable, not as errors.
func (f *Forecaster) Lookup(ctx context.Context, at domain.Coordinate, date string) (domain.Forecast, error) {
	zone, ok, err := f.zones.Locate(ctx, at)
	if err != nil {
		f.metrics.ForecastLookups.WithLabelValues("error").Inc()
		return domain.Forecast{}, err
	}
	if !ok {
		f.metrics.ForecastLookups.WithLabelValues("outside_coverage").Inc()
		return domain.OutsideCoverage(), nil
	}

	p, err := f.products.Product(ctx, zone.CenterID, zone.ID, date)
	if errors.Is(err, errNotPublished) {
		f.metrics.ForecastLookups.WithLabelValues("not_available").Inc()
		fc := domain.NotAvailable(fmt.Sprintf("no forecast was published for %s on %s", zone.Name, date))
		fc.ZoneName = zone.Name
		return fc, nil
	}
	if err != nil {
		f.metrics.ForecastLookups.WithLabelValues("error").Inc()
		return domain.Forecast{}, fmt.Errorf("fetch forecast for zone %d: %w", zone.ID, err)
	}

	f.metrics.ForecastLookups.WithLabelValues("available").Inc()
	productID := fmt.Sprint(p.ID)
	f.logger.Debug("forecast found", "zone", zone.Name, "center_id", zone.CenterID, "product_id", productID, "date", date)
	return domain.Forecast{
		Status:       domain.ForecastAvailable,
		ZoneName:     zone.Name,
		Summary:      Summarize(p.Danger),
		ProductID:    productID,
		PermalinkURL: f.permalinkBase + productID,
	}, nil
}
