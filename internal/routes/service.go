package routes

import (
	"context"

	"bus-track/internal/contracts"
	"bus-track/internal/domain/bus"
)

// Service is the route-enrichment collaborator boundary. The geometry
// algorithm behind it is a black box to the pipeline; only the shape of the
// answers is fixed here. A nil ETA or NearStop answer means "no estimate",
// not an error.
type Service interface {
	ETA(ctx context.Context, lat, lng float64, routeID string) (*contracts.ETA, error)
	NearStop(ctx context.Context, lat, lng float64, routeID string) (*contracts.NearStop, error)
}

// StopSource supplies the ordered stops of a route.
type StopSource interface {
	StopsForRoute(ctx context.Context, routeID string) ([]bus.Stop, error)
}
