package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"bus-track/internal/domain/user"
)

// Topic names. A connection subscribed to a topic receives every message
// published to it.
const TopicAllBuses = "bus:updates"

// TopicDriver is the private topic for one driver.
func TopicDriver(driverID string) string { return "driver:" + driverID }

// TopicBus is the per-bus topic.
func TopicBus(busID string) string { return "bus:" + busID }

var (
	ErrUnknownSession = errors.New("unknown session")
	// ErrRebind: the session is already bound to a different bus. Re-binding
	// requires a clean re-authentication, never a silent swap.
	ErrRebind = errors.New("session already bound to another bus")
	// ErrBusTaken: another session currently owns this bus (single-writer
	// invariant).
	ErrBusTaken = errors.New("bus already has an active driver session")
)

// Manager owns every Session and the busID -> sessionID writer map. It is
// the only component allowed to bind a connection to a bus identity.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	busOwner map[string]string // busID -> sessionID
	now      func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		busOwner: make(map[string]string),
		now:      time.Now,
	}
}

// Create registers a new anonymous session for a connection id.
func (m *Manager) Create(id string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{
		ID:          id,
		State:       StateConnected,
		ConnectedAt: m.now().UTC(),
		topics:      make(map[string]struct{}),
	}
	m.sessions[id] = s
	return s.snapshot()
}

// Get returns a snapshot of the session, if it exists.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.snapshot(), true
}

// BindDriver atomically binds a session to a (driverID, busID) pair after a
// successful Auth Gate result.
//
//   - unbound session: bind and join driver:{driverID} and bus:{busID}
//   - already bound to the same bus: idempotent no-op
//   - bound to a different bus: ErrRebind
//   - bus owned by another live session: ErrBusTaken
func (m *Manager) BindDriver(id, driverID, busID, routeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrUnknownSession
	}

	if s.Authenticated && s.Role == user.RoleDriver {
		if s.BusID == busID && s.DriverID == driverID {
			return nil // idempotent re-authentication
		}
		return fmt.Errorf("%w: bound=%s requested=%s", ErrRebind, s.BusID, busID)
	}

	if owner, taken := m.busOwner[busID]; taken && owner != id {
		return ErrBusTaken
	}

	s.State = StateDriver
	s.Role = user.RoleDriver
	s.DriverID = driverID
	s.BusID = busID
	s.RouteID = routeID
	s.Authenticated = true
	s.topics[TopicDriver(driverID)] = struct{}{}
	s.topics[TopicBus(busID)] = struct{}{}
	m.busOwner[busID] = id

	return nil
}

// BindAdmin marks a session as an authenticated, read-only admin subscriber
// on the global topic.
func (m *Manager) BindAdmin(id, adminID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if s.Authenticated && s.Role == user.RoleDriver {
		return fmt.Errorf("%w: driver session cannot become admin", ErrRebind)
	}

	s.State = StateAdmin
	s.Role = user.RoleAdmin
	s.UserID = adminID
	s.Authenticated = true
	s.topics[TopicAllBuses] = struct{}{}
	return nil
}

// JoinViewer puts an anonymous session on the global broadcast topic. Viewer
// sessions never bind an identity and stay read-only for their lifetime.
func (m *Manager) JoinViewer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if s.State == StateConnected {
		s.State = StateViewer
	}
	s.topics[TopicAllBuses] = struct{}{}
	return nil
}

// JoinTopic subscribes a session to an arbitrary topic.
func (m *Manager) JoinTopic(id, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	s.topics[topic] = struct{}{}
	return nil
}

// Subscribers returns the session ids currently joined to a topic.
func (m *Manager) Subscribers(topic string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, s := range m.sessions {
		if _, ok := s.topics[topic]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// BusOwner returns the session id currently bound to a bus, if any.
func (m *Manager) BusOwner(busID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.busOwner[busID]
	return id, ok
}

// Remove transitions a session to Disconnected: it leaves every topic and
// releases the bus binding. Terminal; the id may not be reused.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return
	}
	if s.BusID != "" && m.busOwner[s.BusID] == id {
		delete(m.busOwner, s.BusID)
	}
	s.State = StateDisconnected
	s.topics = make(map[string]struct{})
	delete(m.sessions, id)
}

// Count returns the number of live sessions (admin/debug surface).
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
