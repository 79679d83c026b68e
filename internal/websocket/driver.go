package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"bus-track/internal/broadcast"
	"bus-track/internal/contracts"
	"bus-track/internal/domain/geo"
	"bus-track/internal/session"
	"bus-track/internal/validate"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ServeDriver handles WebSocket connections from drivers. The connection
// starts anonymous; identity is established by driver:authenticate events
// and may be retried on the same socket (e.g. after NotFound on the bus
// assignment).
func (s *Server) ServeDriver(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}

	sessionID := uuid.NewString()
	s.sessions.Create(sessionID)
	s.conns.Store(sessionID, conn)

	done := make(chan struct{})

	// Teardown order (LIFO on return):
	defer conn.Close()                  // 5) close the socket last
	defer s.writeLocks.Delete(conn)     // 4) forget per-connection mutex (idempotent)
	defer s.sessions.Remove(sessionID)  // 3) leave every topic, release the bus binding
	defer s.conns.Delete(sessionID)     // 2) stop routing frames here
	defer close(done)                   // 1) stop the ping loop

	conn.SetReadLimit(1 << 20) // 1 MiB
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})
	go s.pingLoop(conn, done)

	s.log.Info(r.Context(), "ws_connected", "Driver WebSocket connected",
		map[string]any{"session_id": sessionID})

	// per-connection throttle marker for location updates
	var lastLocAt time.Time

	// Read loop: events from one connection are handled strictly in arrival
	// order, which preserves per-bus broadcast ordering.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Error(r.Context(), "ws_unexpected_close", "Driver connection closed unexpectedly", err, map[string]any{
					"session_id": sessionID,
				})
				s.wsWriteClose(conn, websocket.CloseInternalServerErr, "internal error")
			} else {
				s.log.Info(r.Context(), "ws_connection_closed", "Driver connection closed normally", map[string]any{
					"session_id": sessionID,
				})
				s.wsWriteClose(conn, websocket.CloseNormalClosure, "bye")
			}
			break
		}

		var msg contracts.Envelope
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.sendError(conn, "bad json")
			continue
		}

		switch msg.Type {
		case contracts.EventDriverAuthenticate:
			s.handleDriverAuthenticate(r.Context(), conn, sessionID, msg.Data)

		case contracts.EventDriverLocationUpdate:
			s.handleLocationUpdate(r.Context(), conn, sessionID, msg.Data, &lastLocAt)

		default:
			s.sendError(conn, "unknown message type")
		}
	}
}

// handleDriverAuthenticate runs the Auth Gate and binds the session. All
// failures are surfaced as error events; the connection always stays open
// so the client may retry (e.g. once an assignment appears).
func (s *Server) handleDriverAuthenticate(ctx context.Context, conn *websocket.Conn, sessionID string, data json.RawMessage) {
	var req contracts.AuthenticateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(conn, "invalid authenticate payload")
		return
	}

	grant, err := s.gate.Authenticate(ctx, req.Token)
	if err != nil {
		s.log.Error(ctx, "ws_auth_failed", "Driver authentication failed", err, map[string]any{
			"session_id": sessionID,
		})
		s.sendError(conn, err.Error())
		return
	}

	if err := s.sessions.BindDriver(sessionID, grant.DriverID, grant.BusID, grant.RouteID); err != nil {
		if errors.Is(err, session.ErrRebind) || errors.Is(err, session.ErrBusTaken) {
			s.sendError(conn, err.Error())
			return
		}
		s.log.Error(ctx, "session_bind_failed", "Failed to bind driver session", err, map[string]any{
			"session_id": sessionID,
			"driver_id":  grant.DriverID,
		})
		s.sendError(conn, "internal server error")
		return
	}

	info := contracts.BusInfo{BusID: grant.BusID, RouteID: grant.RouteID}
	if s.busInfo != nil {
		if b, err := s.busInfo.BusInfoFor(ctx, grant.BusID); err == nil && b != nil {
			info.Number = b.Number
		}
	}

	_ = s.SendTo(sessionID, contracts.EventDriverAuthenticated, contracts.DriverAuthenticated{
		DriverID: grant.DriverID,
		BusID:    grant.BusID,
		BusInfo:  info,
	})

	s.log.Info(ctx, "driver_authenticated", "Driver session bound to bus", map[string]any{
		"session_id": sessionID,
		"driver_id":  grant.DriverID,
		"bus_id":     grant.BusID,
	})
}

// handleLocationUpdate validates one sample and hands it to the fan-out
// pipeline. Persistence failures reach only this connection.
func (s *Server) handleLocationUpdate(ctx context.Context, conn *websocket.Conn, sessionID string, data json.RawMessage, lastLocAt *time.Time) {
	now := time.Now()
	if now.Sub(*lastLocAt) < s.minSampleInterval {
		s.log.Debug(ctx, "location_update_throttled", "Location update throttled", map[string]any{
			"session_id": sessionID,
			"interval":   now.Sub(*lastLocAt).String(),
		})
		return // ignore over-frequent updates
	}
	*lastLocAt = now

	var raw geo.Sample
	if err := json.Unmarshal(data, &raw); err != nil {
		s.log.Error(ctx, "location_update_parse_failed", "Failed to parse location data", err, map[string]any{
			"session_id": sessionID,
		})
		s.sendError(conn, "invalid location data")
		return
	}

	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		s.sendError(conn, validate.MsgUnauthorized)
		return
	}

	result := s.validator.Validate(validate.Origin{
		Authenticated: sess.Authenticated,
		Role:          sess.Role,
		DriverID:      sess.DriverID,
		BusID:         sess.BusID,
	}, raw)
	if !result.Success {
		s.log.Debug(ctx, "location_update_rejected", "Sample failed validation", map[string]any{
			"session_id": sessionID,
			"error":      result.Errors[0],
		})
		s.sendError(conn, result.Errors[0])
		return
	}

	if err := s.fanout.Publish(ctx, sessionID, sess.RouteID, *result.Sample); err != nil {
		if errors.Is(err, broadcast.ErrTransient) {
			// dropped sample; the driver's next sample supersedes it
			s.sendError(conn, "failed to save location")
			return
		}
		s.log.Error(ctx, "location_fanout_failed", "Fan-out failed after persistence", err, map[string]any{
			"session_id": sessionID,
			"bus_id":     sess.BusID,
		})
		s.sendError(conn, "internal server error")
	}
}
