package auth

import (
	"time"

	"bus-track/internal/domain/user"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims defines our canonical JWT claims payload.
//
// Role is the single canonical role; Roles is the provider-style claim list
// some identity tokens carry instead. Both are honored by the Auth Gate.
type Claims struct {
	Role  user.Role `json:"role,omitempty"`
	Roles []string  `json:"roles,omitempty"`
	jwtlib.RegisteredClaims
}

// ensure Claims implements jwtlib.Claims interface
var _ jwtlib.Claims = (*Claims)(nil)

// NewUserClaims constructs end-user claims (student/driver/admin).
func NewUserClaims(userID string, role user.Role, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
}

// HasRoleClaim reports whether the provider-style claim list contains the
// given role (case-insensitive match on the role name).
func (c *Claims) HasRoleClaim(role user.Role) bool {
	if c.Role == role {
		return true
	}
	for _, r := range c.Roles {
		if parsed, err := user.ParseRole(r); err == nil && parsed == role {
			return true
		}
	}
	return false
}
