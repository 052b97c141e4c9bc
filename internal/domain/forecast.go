package domain

import "context"

// ForecastStatus is the outcome of a forecast lookup.
type ForecastStatus int

const (
	// ForecastUnknown is the zero value; a Forecast carrying it was never filled in.
	ForecastUnknown ForecastStatus = iota
	// ForecastAvailable means a forecast was published for the zone and date.
	ForecastAvailable
	// ForecastNotAvailable means the zone exists but has no usable forecast.
	ForecastNotAvailable
	// ForecastOutsideCoverage means no forecast zone contains the coordinate.
	ForecastOutsideCoverage
)

func (s ForecastStatus) String() string {
	switch s {
	case ForecastAvailable:
		return "available"
	case ForecastNotAvailable:
		return "not_available"
	case ForecastOutsideCoverage:
		return "outside_coverage"
	}
	return "unknown"
}

// Forecast is the result of looking up the avalanche forecast for a point and date.
type Forecast struct {
	Status       ForecastStatus `json:"status"`
	ZoneName     string         `json:"zone_name,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	ProductID    string         `json:"product_id,omitempty"`
	PermalinkURL string         `json:"permalink_url,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

// Usable reports whether the forecast can be rendered into a block that
// MarkerFormat recognizes again: it is available and has a numeric product id.
func (f Forecast) Usable() bool {
	return f.Status == ForecastAvailable && numericID(f.ProductID)
}

// NotAvailable builds a NotAvailable forecast with a user-facing reason.
func NotAvailable(reason string) Forecast {
	return Forecast{Status: ForecastNotAvailable, Reason: reason}
}

// OutsideCoverage builds an OutsideCoverage forecast.
func OutsideCoverage() Forecast {
	return Forecast{Status: ForecastOutsideCoverage, Reason: "no avalanche forecast zone covers this location"}
}

// Forecaster looks up the avalanche forecast covering a coordinate on a civil
// date ("2006-01-02"). A returned error means the lookup itself failed; a
// missing forecast is reported through Forecast.Status.
type Forecaster interface {
	Lookup(ctx context.Context, at Coordinate, date string) (Forecast, error)
}
