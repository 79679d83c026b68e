package postgres

import (
	"context"
	"errors"
	"fmt"

	"bus-track/internal/auth"
	"bus-track/internal/domain/bus"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AssignmentRepo resolves a driver's current bus assignment.
type AssignmentRepo struct {
	db *pgxpool.Pool
}

var _ auth.AssignmentStore = (*AssignmentRepo)(nil)

func NewAssignmentRepo(db *pgxpool.Pool) *AssignmentRepo {
	return &AssignmentRepo{db: db}
}

// AssignmentFor returns (nil, nil) when the driver has no active assignment.
func (r *AssignmentRepo) AssignmentFor(ctx context.Context, driverID string) (*bus.Assignment, error) {
	var busID string
	var routeID *string

	err := r.db.QueryRow(ctx, `
		SELECT b.id, b.route_id
		FROM bus_assignments a
		JOIN buses b ON b.id = a.bus_id
		WHERE a.driver_id = $1 AND a.active = true
	`, driverID).Scan(&busID, &routeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select assignment: %w", err)
	}

	assignment := &bus.Assignment{DriverID: driverID, BusID: busID}
	if routeID != nil {
		assignment.RouteID = *routeID
	}
	return assignment, nil
}

// BusInfoFor loads the bus summary shown to the driver on authentication.
func (r *AssignmentRepo) BusInfoFor(ctx context.Context, busID string) (*bus.Bus, error) {
	var b bus.Bus
	var routeID *string

	err := r.db.QueryRow(ctx, `
		SELECT id, number, route_id, capacity, updated_at
		FROM buses
		WHERE id = $1
	`, busID).Scan(&b.ID, &b.Number, &routeID, &b.Capacity, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select bus: %w", err)
	}
	if routeID != nil {
		b.RouteID = *routeID
	}
	return &b, nil
}
