package avalanche

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

// DefaultZoneRefresh is how long a fetched map layer is trusted. Zone
// boundaries change a few times a season at most.
const DefaultZoneRefresh = 12 * time.Hour

// Zone is one forecast zone polygon.
type Zone struct {
	ID       int64
	Name     string
	CenterID string
	geometry orb.Geometry
	bound    orb.Bound
}

// Contains reports whether the coordinate falls inside the zone.
func (z Zone) Contains(at domain.Coordinate) bool {
	pt := orb.Point{at.Lon, at.Lat}
	if !z.bound.Contains(pt) {
		return false
	}
	switch g := z.geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, pt)
	}
	return false
}

// MapLayerSource fetches the zone map layer.
type MapLayerSource interface {
	MapLayer(ctx context.Context) (*geojson.FeatureCollection, error)
}

// ZoneLocator resolves coordinates to forecast zones. The map layer is
// fetched lazily and kept for refreshEvery; a failed refresh keeps serving
// the previous layer.
type ZoneLocator struct {
	source       MapLayerSource
	clock        clockwork.Clock
	refreshEvery time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	zones     []Zone
	fetchedAt time.Time
}

// NewZoneLocator creates a ZoneLocator.
func NewZoneLocator(source MapLayerSource, refreshEvery time.Duration, clock clockwork.Clock, logger *slog.Logger) *ZoneLocator {
	return &ZoneLocator{source: source, clock: clock, refreshEvery: refreshEvery, logger: logger}
}

// Locate returns the zone containing at. ok is false outside every zone.
func (l *ZoneLocator) Locate(ctx context.Context, at domain.Coordinate) (Zone, bool, error) {
	zones, err := l.load(ctx)
	if err != nil {
		return Zone{}, false, err
	}
	for _, z := range zones {
		if z.Contains(at) {
			return z, true, nil
		}
	}
	return Zone{}, false, nil
}

func (l *ZoneLocator) load(ctx context.Context) ([]Zone, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.zones != nil && l.clock.Since(l.fetchedAt) < l.refreshEvery {
		return l.zones, nil
	}

	fc, err := l.source.MapLayer(ctx)
	if err != nil {
		if l.zones != nil {
			l.logger.Warn("refresh forecast zones, serving stale layer", "error", err)
			return l.zones, nil
		}
		return nil, fmt.Errorf("load forecast zones: %w", err)
	}

	l.zones = zonesFromLayer(fc)
	l.fetchedAt = l.clock.Now()
	l.logger.Info("forecast zones loaded", "zones", len(l.zones))
	return l.zones, nil
}

func zonesFromLayer(fc *geojson.FeatureCollection) []Zone {
	zones := make([]Zone, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			continue
		}
		zones = append(zones, Zone{
			ID:       featureID(f),
			Name:     f.Properties.MustString("name", ""),
			CenterID: f.Properties.MustString("center_id", ""),
			geometry: f.Geometry,
			bound:    f.Geometry.Bound(),
		})
	}
	return zones
}

func featureID(f *geojson.Feature) int64 {
	switch id := f.ID.(type) {
	case float64:
		return int64(id)
	case int64:
		return id
	case int:
		return int64(id)
	}
	return int64(f.Properties.MustInt("id", 0))
}
