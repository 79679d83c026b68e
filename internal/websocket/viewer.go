package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"bus-track/internal/contracts"
	"bus-track/internal/domain/user"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ServeViewer handles WebSocket connections from students and admins.
// Viewers never bind a bus identity: they join the broadcast topic on an
// explicit connect signal and are read-only for the session's lifetime.
func (s *Server) ServeViewer(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}

	sessionID := uuid.NewString()
	s.sessions.Create(sessionID)
	s.conns.Store(sessionID, conn)

	done := make(chan struct{})

	defer conn.Close()
	defer s.writeLocks.Delete(conn)
	defer s.sessions.Remove(sessionID)
	defer s.conns.Delete(sessionID)
	defer close(done)

	conn.SetReadLimit(1 << 20) // 1 MiB
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})
	go s.pingLoop(conn, done)

	s.log.Info(r.Context(), "ws_connected", "Viewer WebSocket connected",
		map[string]any{"session_id": sessionID})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Error(r.Context(), "ws_unexpected_close", "Viewer connection closed unexpectedly", err, map[string]any{
					"session_id": sessionID,
				})
				s.wsWriteClose(conn, websocket.CloseInternalServerErr, "internal error")
			} else {
				s.log.Info(r.Context(), "ws_connection_closed", "Viewer connection closed normally", map[string]any{
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
		case contracts.EventStudentConnect:
			s.handleStudentConnect(r.Context(), conn, sessionID)

		case contracts.EventAdminAuthenticate:
			s.handleAdminAuthenticate(r.Context(), conn, sessionID, msg.Data)

		default:
			s.sendError(conn, "unknown message type")
		}
	}
}

// handleStudentConnect joins the anonymous session to the global topic.
func (s *Server) handleStudentConnect(ctx context.Context, conn *websocket.Conn, sessionID string) {
	if err := s.sessions.JoinViewer(sessionID); err != nil {
		s.sendError(conn, "internal server error")
		return
	}

	_ = s.SendTo(sessionID, contracts.EventStudentConnected, contracts.StudentConnected{
		Timestamp: time.Now().UTC(),
	})

	s.log.Info(ctx, "student_connected", "Viewer joined broadcast topic", map[string]any{
		"session_id": sessionID,
	})
}

// handleAdminAuthenticate upgrades a viewer session to an authenticated,
// still read-only admin subscriber.
func (s *Server) handleAdminAuthenticate(ctx context.Context, conn *websocket.Conn, sessionID string, data json.RawMessage) {
	var req contracts.AuthenticateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(conn, "invalid authenticate payload")
		return
	}

	adminID, err := s.gate.VerifyRole(req.Token, user.RoleAdmin)
	if err != nil {
		s.log.Error(ctx, "ws_auth_failed", "Admin authentication failed", err, map[string]any{
			"session_id": sessionID,
		})
		s.sendError(conn, err.Error())
		return
	}

	if err := s.sessions.BindAdmin(sessionID, adminID); err != nil {
		s.sendError(conn, err.Error())
		return
	}

	_ = s.SendTo(sessionID, contracts.EventAdminAuthenticated, contracts.AdminAuthenticated{
		AdminID:   adminID,
		Timestamp: time.Now().UTC(),
	})

	s.log.Info(ctx, "admin_authenticated", "Admin session joined broadcast topic", map[string]any{
		"session_id": sessionID,
		"admin_id":   adminID,
	})
}
