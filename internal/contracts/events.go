package contracts

import "encoding/json"

// Event type names used on the WebSocket wire.
const (
	EventDriverAuthenticate      = "driver:authenticate"
	EventDriverAuthenticated     = "driver:authenticated"
	EventDriverLocationUpdate    = "driver:locationUpdate"
	EventDriverLocationConfirmed = "driver:locationConfirmed"
	EventAdminAuthenticate       = "admin:authenticate"
	EventAdminAuthenticated      = "admin:authenticated"
	EventBusLocationUpdate       = "bus:locationUpdate"
	EventBusArriving             = "bus:arriving"
	EventStudentConnect          = "student:connect"
	EventStudentConnected        = "student:connected"
	EventError                   = "error"
)

// Envelope is the minimal WS frame: {"type": "...", "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorMessage is the uniform per-event error surface. Errors never
// terminate the connection handler; they are sent back as one of these.
type ErrorMessage struct {
	Message string `json:"message"`
}
