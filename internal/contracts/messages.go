package contracts

import "time"

// AuthenticateRequest is the payload of driver:authenticate and admin:authenticate.
type AuthenticateRequest struct {
	Token string `json:"token"`
}

// BusInfo is the bus summary returned on successful driver authentication.
type BusInfo struct {
	BusID   string `json:"busId"`
	Number  string `json:"number,omitempty"`
	RouteID string `json:"routeId,omitempty"`
}

// DriverAuthenticated is the payload of driver:authenticated.
type DriverAuthenticated struct {
	DriverID string  `json:"driverId"`
	BusID    string  `json:"busId"`
	BusInfo  BusInfo `json:"busInfo"`
}

// AdminAuthenticated is the payload of admin:authenticated.
type AdminAuthenticated struct {
	AdminID   string    `json:"adminId"`
	Timestamp time.Time `json:"timestamp"`
}

// ETA is the route-service estimate for the next stop. Null on the wire
// when the bus has no route assignment.
type ETA struct {
	StopID    string  `json:"stopId"`
	StopName  string  `json:"stopName,omitempty"`
	Seconds   int     `json:"seconds"`
	Distance  float64 `json:"distanceKm"`
}

// NearStop is the route-service geofence signal. Null on the wire when the
// bus has no route assignment.
type NearStop struct {
	StopID     string  `json:"stopId"`
	StopName   string  `json:"stopName,omitempty"`
	DistanceKm float64 `json:"distanceKm"`
	IsNearStop bool    `json:"isNearStop"`
}

// BusLocationUpdate is broadcast to every viewer and admin on the global topic.
type BusLocationUpdate struct {
	BusID     string    `json:"busId"`
	DriverID  string    `json:"driverId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Speed     *float64  `json:"speed"`
	Heading   *float64  `json:"heading"`
	ETA       *ETA      `json:"eta"`
	NearStop  *NearStop `json:"nearStop"`
}

// BusArriving is broadcast in addition to BusLocationUpdate when the bus is
// inside a stop geofence. Location is [lng, lat] (GeoJSON order).
type BusArriving struct {
	BusID     string     `json:"busId"`
	RouteID   string     `json:"routeId"`
	Location  [2]float64 `json:"location"`
	Timestamp time.Time  `json:"timestamp"`
}

// DriverLocationConfirmed is the private confirmation sent to the
// originating driver session after a durable write.
type DriverLocationConfirmed struct {
	Timestamp  time.Time `json:"timestamp"`
	LocationID string    `json:"locationId"`
}

// StudentConnected acknowledges a student:connect signal.
type StudentConnected struct {
	Timestamp time.Time `json:"timestamp"`
}

// LocationMirror is the AMQP copy of a public broadcast, published to
// ExchangeLocationFanout for out-of-process consumers.
type LocationMirror struct {
	BusLocationUpdate
	Producer string    `json:"producer"`
	SentAt   time.Time `json:"sentAt"`
}
