package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bus-track/internal/auth"
	"bus-track/internal/contracts"
	"bus-track/internal/domain/bus"
	"bus-track/internal/domain/geo"
	"bus-track/internal/logger"
	"bus-track/internal/session"
	"bus-track/internal/validate"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
	ctrlTimeout      = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Fanout is the downstream pipeline for a validated sample.
type Fanout interface {
	Publish(ctx context.Context, sessionID, routeID string, p geo.Point) error
}

// BusInfoSource loads the bus summary returned on driver authentication.
type BusInfoSource interface {
	BusInfoFor(ctx context.Context, busID string) (*bus.Bus, error)
}

// Server owns the WebSocket endpoints. Connections are keyed by generated
// session id; all per-connection identity lives in the session.Manager,
// never on the conn itself.
type Server struct {
	log       *logger.Logger
	gate      *auth.Gate
	sessions  *session.Manager
	validator *validate.Validator
	busInfo   BusInfoSource
	fanout    Fanout

	minSampleInterval time.Duration
	pingInterval      time.Duration
	readTimeout       time.Duration

	conns      sync.Map // sessionID(string) -> *websocket.Conn
	writeLocks sync.Map // *websocket.Conn  -> *sync.Mutex
}

// NewServer creates the WebSocket server. The fan-out service is attached
// afterwards because it broadcasts through this server.
func NewServer(
	log *logger.Logger,
	gate *auth.Gate,
	sessions *session.Manager,
	validator *validate.Validator,
	busInfo BusInfoSource,
	minSampleInterval, pingInterval, readTimeout time.Duration,
) *Server {
	return &Server{
		log:               log,
		gate:              gate,
		sessions:          sessions,
		validator:         validator,
		busInfo:           busInfo,
		minSampleInterval: minSampleInterval,
		pingInterval:      pingInterval,
		readTimeout:       readTimeout,
	}
}

// AttachFanout wires the broadcast pipeline after construction.
func (s *Server) AttachFanout(f Fanout) {
	s.fanout = f
}

// Broadcast emits one event to every session subscribed to topic. Delivery
// is best-effort per socket; a failed write only logs.
func (s *Server) Broadcast(topic, event string, data any) {
	frame, err := envelope(event, data)
	if err != nil {
		s.log.Error(context.Background(), "broadcast_marshal_failed", "Failed to encode broadcast frame", err, map[string]any{"event": event})
		return
	}

	for _, id := range s.sessions.Subscribers(topic) {
		conn, ok := s.connOf(id)
		if !ok {
			continue
		}
		if err := s.wsWriteMessage(conn, websocket.TextMessage, frame); err != nil {
			s.log.Debug(context.Background(), "broadcast_write_failed", "Dropped frame for one subscriber", map[string]any{
				"session_id": id,
				"event":      event,
			})
		}
	}
}

// SendTo emits one event to a single session. A missing connection is not
// an error: the peer disconnected and its reply is simply discarded.
func (s *Server) SendTo(sessionID, event string, data any) error {
	conn, ok := s.connOf(sessionID)
	if !ok {
		return nil
	}

	frame, err := envelope(event, data)
	if err != nil {
		return err
	}
	return s.wsWriteMessage(conn, websocket.TextMessage, frame)
}

func (s *Server) connOf(sessionID string) (*websocket.Conn, bool) {
	v, ok := s.conns.Load(sessionID)
	if !ok {
		return nil, false
	}
	conn, ok := v.(*websocket.Conn)
	return conn, ok
}

// envelope builds the {"type": ..., "data": ...} frame.
func envelope(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(contracts.Envelope{Type: event, Data: raw})
}
