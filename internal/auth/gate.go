package auth

import (
	"context"
	"errors"
	"fmt"

	"bus-track/internal/domain/bus"
	"bus-track/internal/domain/user"
)

// Error taxonomy surfaced to the originating connection as {message}.
var (
	// ErrAuthentication: bad/missing/expired token, or the verified subject
	// does not exist. The gate fails closed on any verification error.
	ErrAuthentication = errors.New("authentication failed")
	// ErrAuthorization: the identity is valid but lacks the required role.
	ErrAuthorization = errors.New("role not allowed")
	// ErrNoAssignment: the driver has no current bus assignment. The
	// connection stays open; the client may retry authentication.
	ErrNoAssignment = errors.New("no bus assignment for driver")
)

// RolePolicy selects how the gate resolves the driver role. Two strategies
// exist upstream and are preserved as an explicit choice rather than
// silently collapsed:
//
//   - RoleFromClaimOrProfile (default): the identity counts as a driver if
//     EITHER the token's role claims include DRIVER or the profile lookup
//     reports DRIVER. The operative identity is the token subject.
//   - RoleFromProfileOnly: only the profile lookup counts, and the profile's
//     DriverID (when set) substitutes for the token subject as the operative
//     identity.
type RolePolicy int

const (
	RoleFromClaimOrProfile RolePolicy = iota
	RoleFromProfileOnly
)

// Profile is the role record held by the external profile collaborator.
type Profile struct {
	Role     user.Role
	DriverID string // optional: operative driver identity under RoleFromProfileOnly
}

// TokenVerifier verifies a bearer credential and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// ProfileStore resolves a verified user id to its profile.
// A missing profile is reported as (nil, nil).
type ProfileStore interface {
	ProfileOf(ctx context.Context, userID string) (*Profile, error)
}

// AssignmentStore resolves a driver's current bus assignment.
// No assignment is reported as (nil, nil).
type AssignmentStore interface {
	AssignmentFor(ctx context.Context, driverID string) (*bus.Assignment, error)
}

// Grant is the successful result of Authenticate. It carries no session
// state; binding the grant to a connection is the Session Manager's job.
type Grant struct {
	DriverID string
	BusID    string
	RouteID  string
}

// Gate verifies a driver credential and resolves role plus bus assignment.
type Gate struct {
	verifier    TokenVerifier
	profiles    ProfileStore
	assignments AssignmentStore
	policy      RolePolicy
}

// NewGate constructs an Auth Gate with explicit collaborators.
func NewGate(verifier TokenVerifier, profiles ProfileStore, assignments AssignmentStore, policy RolePolicy) *Gate {
	return &Gate{
		verifier:    verifier,
		profiles:    profiles,
		assignments: assignments,
		policy:      policy,
	}
}

// Authenticate runs the three-step gate: verify token, resolve role,
// resolve assignment. It performs lookups only and mutates nothing.
func (g *Gate) Authenticate(ctx context.Context, token string) (*Grant, error) {
	// 1) verify the credential; fail closed on any verification error
	claims, err := g.verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrAuthentication)
	}

	// 2) resolve the driver role per the configured policy
	driverID := claims.Subject
	isDriver := false

	if g.policy == RoleFromClaimOrProfile && claims.HasRoleClaim(user.RoleDriver) {
		isDriver = true
	}
	if !isDriver {
		profile, err := g.profiles.ProfileOf(ctx, claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("%w: profile lookup: %v", ErrAuthentication, err)
		}
		if profile != nil && profile.Role == user.RoleDriver {
			isDriver = true
			if g.policy == RoleFromProfileOnly && profile.DriverID != "" {
				driverID = profile.DriverID
			}
		}
	}
	if !isDriver {
		return nil, ErrAuthorization
	}

	// 3) resolve the current bus assignment
	assignment, err := g.assignments.AssignmentFor(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("assignment lookup: %w", err)
	}
	if assignment == nil {
		return nil, ErrNoAssignment
	}

	return &Grant{
		DriverID: driverID,
		BusID:    assignment.BusID,
		RouteID:  assignment.RouteID,
	}, nil
}

// VerifyRole authenticates a token and asserts a specific non-driver role
// (used for admin sessions joining the broadcast topic).
func (g *Gate) VerifyRole(token string, role user.Role) (string, error) {
	claims, err := g.verifier.Verify(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if !claims.HasRoleClaim(role) {
		return "", fmt.Errorf("%w: %s role required", ErrAuthorization, role)
	}
	return claims.Subject, nil
}
