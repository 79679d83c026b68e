package postgres

import (
	"context"
	"fmt"

	"bus-track/internal/domain/geo"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LocationRepo persists validated location samples using pgx and plain SQL.
// One current row per bus plus an append-only history table.
type LocationRepo struct {
	db *pgxpool.Pool
}

func NewLocationRepo(db *pgxpool.Pool) *LocationRepo {
	return &LocationRepo{db: db}
}

// SaveLocation records one validated sample in a single transaction and
// returns the generated location id.
func (r *LocationRepo) SaveLocation(ctx context.Context, p geo.Point) (string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE bus_locations
		SET is_current = false, updated_at = now()
		WHERE bus_id = $1 AND is_current = true
	`, p.BusID); err != nil {
		return "", fmt.Errorf("retire previous location: %w", err)
	}

	id := uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO bus_locations (
			id, bus_id, driver_id, latitude, longitude,
			speed_kmh, heading_degrees, recorded_at,
			is_current, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, now(), now())
	`, id, p.BusID, p.DriverID, p.Latitude, p.Longitude, p.SpeedKmh, p.Heading, p.Timestamp); err != nil {
		return "", fmt.Errorf("insert location: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}
