package postgres

import (
	"context"
	"errors"
	"fmt"

	"bus-track/internal/auth"
	"bus-track/internal/domain/user"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepo resolves verified user ids to their profile row.
type ProfileRepo struct {
	db *pgxpool.Pool
}

var _ auth.ProfileStore = (*ProfileRepo)(nil)

func NewProfileRepo(db *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// ProfileOf returns (nil, nil) when no profile row exists for the user.
func (r *ProfileRepo) ProfileOf(ctx context.Context, userID string) (*auth.Profile, error) {
	var roleStr string
	var driverID *string

	err := r.db.QueryRow(ctx, `
		SELECT role, driver_id
		FROM profiles
		WHERE user_id = $1
	`, userID).Scan(&roleStr, &driverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}

	role, err := user.ParseRole(roleStr)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", userID, err)
	}

	profile := &auth.Profile{Role: role}
	if driverID != nil {
		profile.DriverID = *driverID
	}
	return profile, nil
}
