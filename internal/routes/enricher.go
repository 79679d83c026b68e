package routes

import (
	"context"
	"fmt"
	"math"

	"bus-track/internal/contracts"
	"bus-track/internal/domain/bus"
	"bus-track/internal/domain/geo"
)

// Enricher is the default Service implementation: nearest-stop selection by
// great-circle distance plus a flat-speed ETA estimate.
type Enricher struct {
	stops           StopSource
	avgSpeedKmh     float64
	nearThresholdKm float64
}

var _ Service = (*Enricher)(nil)

// NewEnricher constructs an Enricher. avgSpeedKmh is the assumed cruising
// speed for ETA math; nearThresholdKm is the geofence radius.
func NewEnricher(stops StopSource, avgSpeedKmh, nearThresholdKm float64) *Enricher {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = 30
	}
	if nearThresholdKm <= 0 {
		nearThresholdKm = 0.2
	}
	return &Enricher{
		stops:           stops,
		avgSpeedKmh:     avgSpeedKmh,
		nearThresholdKm: nearThresholdKm,
	}
}

// ETA estimates arrival at the nearest stop of the route.
func (e *Enricher) ETA(ctx context.Context, lat, lng float64, routeID string) (*contracts.ETA, error) {
	stop, distanceKm, err := e.nearest(ctx, lat, lng, routeID)
	if err != nil || stop == nil {
		return nil, err
	}

	seconds := int(math.Round(distanceKm / e.avgSpeedKmh * 3600))
	return &contracts.ETA{
		StopID:   stop.ID,
		StopName: stop.Name,
		Seconds:  seconds,
		Distance: distanceKm,
	}, nil
}

// NearStop reports whether the position is inside the geofence of any stop
// on the route.
func (e *Enricher) NearStop(ctx context.Context, lat, lng float64, routeID string) (*contracts.NearStop, error) {
	stop, distanceKm, err := e.nearest(ctx, lat, lng, routeID)
	if err != nil || stop == nil {
		return nil, err
	}

	return &contracts.NearStop{
		StopID:     stop.ID,
		StopName:   stop.Name,
		DistanceKm: distanceKm,
		IsNearStop: distanceKm <= e.nearThresholdKm,
	}, nil
}

// nearest returns the closest stop on the route, or nil when the route has
// no stops.
func (e *Enricher) nearest(ctx context.Context, lat, lng float64, routeID string) (*bus.Stop, float64, error) {
	stops, err := e.stops.StopsForRoute(ctx, routeID)
	if err != nil {
		return nil, 0, fmt.Errorf("load stops for route %s: %w", routeID, err)
	}
	if len(stops) == 0 {
		return nil, 0, nil
	}

	best := stops[0]
	bestKm := geo.HaversineKm(lat, lng, best.Latitude, best.Longitude)
	for _, s := range stops[1:] {
		if d := geo.HaversineKm(lat, lng, s.Latitude, s.Longitude); d < bestKm {
			best = s
			bestKm = d
		}
	}
	return &best, bestKm, nil
}
