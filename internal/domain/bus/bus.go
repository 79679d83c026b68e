package bus

import "time"

// Bus is a vehicle on the school fleet.
type Bus struct {
	ID        string
	Number    string
	RouteID   string // empty when the bus has no assigned route
	Capacity  int
	UpdatedAt time.Time
}

// Assignment binds a driver to a bus (and, transitively, to a route).
// RouteID may be empty: a bus without a route is still trackable, but
// broadcasts for it carry no ETA or near-stop enrichment.
type Assignment struct {
	DriverID string
	BusID    string
	RouteID  string
}

// Stop is a scheduled stop on a route, ordered by Seq.
type Stop struct {
	ID        string
	RouteID   string
	Name      string
	Latitude  float64
	Longitude float64
	Seq       int
}
