package session

import (
	"time"

	"bus-track/internal/domain/user"
)

// State is the per-connection lifecycle state.
type State int

const (
	StateConnected State = iota // anonymous, nothing joined yet
	StateAuthenticating
	StateDriver // authenticated driver bound to a bus
	StateAdmin  // authenticated admin, read-only subscriber
	StateViewer // anonymous student, read-only subscriber
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateDriver:
		return "driver"
	case StateAdmin:
		return "admin"
	case StateViewer:
		return "viewer"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is the explicit per-connection record. Identity lives here, never
// on the transport handle. Mutated only by the Manager.
type Session struct {
	ID            string
	State         State
	Role          user.Role
	UserID        string // verified subject (admins); drivers use DriverID
	DriverID      string
	BusID         string
	RouteID       string
	Authenticated bool
	ConnectedAt   time.Time

	topics map[string]struct{}
}

// Topics returns a snapshot of the session's joined topics.
func (s *Session) Topics() []string {
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// Snapshot returns a copy safe to read outside the manager lock.
func (s *Session) snapshot() Session {
	cp := *s
	cp.topics = nil
	return cp
}
