package geo

import (
	"errors"
	"time"
)

// Coordinate and motion bounds enforced across the pipeline.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
	MinSpeedKmh  = 0.0
	MaxSpeedKmh  = 200.0
	MinHeading   = 0.0
	MaxHeading   = 360.0 // exclusive
)

var (
	ErrInvalidLatitude  = errors.New("latitude out of range")
	ErrInvalidLongitude = errors.New("longitude out of range")
	ErrInvalidSpeed     = errors.New("speed out of range")
	ErrInvalidHeading   = errors.New("heading out of range")
)

// Sample is a raw location report exactly as received from a driver client.
// Optional and possibly-absent fields are pointers so presence checks can
// distinguish "missing" from zero values.
type Sample struct {
	DriverID  string   `json:"driverId"`
	BusID     string   `json:"busId,omitempty"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Timestamp string   `json:"timestamp"`
	SpeedKmh  *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
}

// Point is a validated, sanitized location sample. Append-only: produced
// once by validation and never mutated afterwards.
type Point struct {
	DriverID  string
	BusID     string
	Latitude  float64
	Longitude float64
	Timestamp time.Time
	SpeedKmh  *float64
	Heading   *float64
}

// ValidLatitude reports whether lat is within [-90, 90].
func ValidLatitude(lat float64) bool {
	return lat >= MinLatitude && lat <= MaxLatitude
}

// ValidLongitude reports whether lng is within [-180, 180].
func ValidLongitude(lng float64) bool {
	return lng >= MinLongitude && lng <= MaxLongitude
}

// ValidSpeed reports whether a speed in km/h is within [0, 200].
func ValidSpeed(speed float64) bool {
	return speed >= MinSpeedKmh && speed <= MaxSpeedKmh
}

// ValidHeading reports whether a heading in degrees is within [0, 360).
func ValidHeading(heading float64) bool {
	return heading >= MinHeading && heading < MaxHeading
}
