package validate

import (
	"fmt"
	"time"

	"bus-track/internal/domain/geo"
	"bus-track/internal/domain/user"
)

// Stable error messages; tests and clients match on these.
const (
	MsgUnauthorized      = "Unauthorized location update"
	MsgDriverIDRequired  = "driverId is required"
	MsgLatitudeRequired  = "latitude must be a number"
	MsgLongitudeRequired = "longitude must be a number"
	MsgTimestampRequired = "timestamp is required"
	MsgLatitudeRange     = "latitude must be between -90 and 90"
	MsgLongitudeRange    = "longitude must be between -180 and 180"
	MsgTimestampInvalid  = "timestamp is not a valid instant"
	MsgTimestampStale    = "timestamp outside freshness window"
	MsgSpeedRange        = "speed must be between 0 and 200 km/h"
	MsgHeadingRange      = "heading must be between 0 and 360 degrees"
)

// Origin describes the session a sample arrived on. The zero value is an
// unauthenticated origin.
type Origin struct {
	Authenticated bool
	Role          user.Role
	DriverID      string
	BusID         string
}

// Result is the pure output of validation: either a sanitized sample or the
// first failing rule. Never more than one error.
type Result struct {
	Success   bool
	Sample    *geo.Point
	Errors    []string
	Sanitized bool
}

// Validator checks raw samples with a deterministic rule order so error
// messages are stable and testable. Stateless; safe for concurrent use.
type Validator struct {
	now           func() time.Time
	maxPastSkew   time.Duration
	maxFutureSkew time.Duration
}

// New constructs a Validator with the given freshness window.
func New(maxPastSkew, maxFutureSkew time.Duration) *Validator {
	return &Validator{
		now:           time.Now,
		maxPastSkew:   maxPastSkew,
		maxFutureSkew: maxFutureSkew,
	}
}

// WithClock overrides the wall clock (tests only).
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate runs the server-side check sequence: origin authorization first,
// then field presence, ranges, timestamp freshness, and optional fields.
// Fails fast on the first violated rule.
func (v *Validator) Validate(origin Origin, raw geo.Sample) Result {
	// 1) only the bound driver may report for its own bus
	if !origin.Authenticated || origin.Role != user.RoleDriver {
		return fail(MsgUnauthorized)
	}
	if raw.DriverID != "" && raw.DriverID != origin.DriverID {
		return fail(MsgUnauthorized)
	}
	if raw.BusID != "" && raw.BusID != origin.BusID {
		return fail(MsgUnauthorized)
	}

	res := v.ValidateShape(raw)
	if !res.Success {
		return res
	}

	// stamp the bound identity onto the sanitized sample
	if res.Sample.DriverID == "" {
		res.Sample.DriverID = origin.DriverID
		res.Sanitized = true
	}
	if res.Sample.BusID == "" {
		res.Sample.BusID = origin.BusID
		res.Sanitized = true
	}
	return res
}

// ValidateShape applies rules 2-5 only (presence, ranges, freshness). Used
// directly by the client-side middleware, where no session origin exists.
func (v *Validator) ValidateShape(raw geo.Sample) Result {
	// 2) required fields and types
	if raw.DriverID == "" {
		return fail(MsgDriverIDRequired)
	}
	if raw.Latitude == nil {
		return fail(MsgLatitudeRequired)
	}
	if raw.Longitude == nil {
		return fail(MsgLongitudeRequired)
	}
	if raw.Timestamp == "" {
		return fail(MsgTimestampRequired)
	}

	// 3) latitude range, then longitude range
	if !geo.ValidLatitude(*raw.Latitude) {
		return fail(MsgLatitudeRange)
	}
	if !geo.ValidLongitude(*raw.Longitude) {
		return fail(MsgLongitudeRange)
	}

	// 4) timestamp parses, then freshness window
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return fail(MsgTimestampInvalid)
	}
	now := v.now().UTC()
	if ts.Before(now.Add(-v.maxPastSkew)) || ts.After(now.Add(v.maxFutureSkew)) {
		return fail(MsgTimestampStale)
	}

	// 5) optional motion fields
	if raw.SpeedKmh != nil && !geo.ValidSpeed(*raw.SpeedKmh) {
		return fail(MsgSpeedRange)
	}
	if raw.Heading != nil && !geo.ValidHeading(*raw.Heading) {
		return fail(MsgHeadingRange)
	}

	return Result{
		Success: true,
		Sample: &geo.Point{
			DriverID:  raw.DriverID,
			BusID:     raw.BusID,
			Latitude:  *raw.Latitude,
			Longitude: *raw.Longitude,
			Timestamp: ts,
			SpeedKmh:  raw.SpeedKmh,
			Heading:   raw.Heading,
		},
	}
}

// ParseTimestamp accepts RFC 3339 with or without sub-second precision.
func ParseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return ts.UTC(), nil
}

func fail(msg string) Result {
	return Result{Success: false, Errors: []string{msg}}
}
