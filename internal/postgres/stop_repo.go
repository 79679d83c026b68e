package postgres

import (
	"context"
	"fmt"

	"bus-track/internal/domain/bus"
	"bus-track/internal/routes"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StopRepo supplies the ordered stops of a route for enrichment.
type StopRepo struct {
	db *pgxpool.Pool
}

var _ routes.StopSource = (*StopRepo)(nil)

func NewStopRepo(db *pgxpool.Pool) *StopRepo {
	return &StopRepo{db: db}
}

func (r *StopRepo) StopsForRoute(ctx context.Context, routeID string) ([]bus.Stop, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, route_id, name, latitude, longitude, seq
		FROM route_stops
		WHERE route_id = $1
		ORDER BY seq
	`, routeID)
	if err != nil {
		return nil, fmt.Errorf("select route stops: %w", err)
	}
	defer rows.Close()

	var stops []bus.Stop
	for rows.Next() {
		var s bus.Stop
		if err := rows.Scan(&s.ID, &s.RouteID, &s.Name, &s.Latitude, &s.Longitude, &s.Seq); err != nil {
			return nil, fmt.Errorf("scan route stop: %w", err)
		}
		stops = append(stops, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route stops: %w", err)
	}
	return stops, nil
}
