package websocket

import (
	"sync"
	"time"

	"bus-track/internal/contracts"

	"github.com/gorilla/websocket"
)

// wsWriteClose sends a close control frame with the given code and reason.
func (s *Server) wsWriteClose(conn *websocket.Conn, code int, reason string) {
	mu := s.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
	s.writeLocks.Delete(conn)
}

// wsWriteMessage sets a short write deadline and writes a message.
func (s *Server) wsWriteMessage(conn *websocket.Conn, mt int, payload []byte) error {
	mu := s.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(mt, payload)
}

// lockOf returns the writer mutex for a specific connection.
func (s *Server) lockOf(conn *websocket.Conn) *sync.Mutex {
	if v, ok := s.writeLocks.Load(conn); ok {
		if mu, ok := v.(*sync.Mutex); ok && mu != nil {
			return mu
		}
	}
	mu := &sync.Mutex{}
	actual, _ := s.writeLocks.LoadOrStore(conn, mu)
	return actual.(*sync.Mutex)
}

// sendError surfaces a per-event failure to one connection as
// {"type":"error","data":{"message":...}}. Never terminates the handler.
func (s *Server) sendError(conn *websocket.Conn, message string) {
	frame, err := envelope(contracts.EventError, contracts.ErrorMessage{Message: message})
	if err != nil {
		return
	}
	_ = s.wsWriteMessage(conn, websocket.TextMessage, frame)
}

// pingLoop sends heartbeats on the per-connection writer lock until the
// first write failure, then closes the socket to unblock the reader.
func (s *Server) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			mu := s.lockOf(conn)
			mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(ctrlTimeout))
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
			mu.Unlock()
			if err != nil {
				// close socket to unblock reader; goroutine exits
				_ = conn.Close()
				return
			}
		}
	}
}
