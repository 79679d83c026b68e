package anomaly

import (
	"math"
	"time"

	"bus-track/internal/domain/geo"
)

// Warning categories. Each category found reduces downstream confidence
// multiplicatively; none of them rejects the sample.
const (
	WarnSuddenJump     = "sudden jump: implied speed exceeds physical limit"
	WarnAcceleration   = "unrealistic acceleration between consecutive samples"
	WarnLatitudeRange  = "latitude out of range"
	WarnLongitudeRange = "longitude out of range"
	WarnSpeedRange     = "speed out of range"
	WarnHeadingRange   = "heading out of range"
	WarnTimestampSkew  = "timestamp far from current time"
)

// minElapsedHours floors the elapsed time so implied speed never divides by
// zero when two samples carry the same timestamp.
const minElapsedHours = 1.0 / 3600.0 // one second

// Detector flags physically implausible motion by comparing a new sample to
// the cached previous sample for the same (bus, driver).
type Detector struct {
	maxImpliedSpeedKmh float64
	maxSpeedDeltaKmh   float64
	accelWindow        time.Duration
	maxClockSkew       time.Duration
	now                func() time.Time
}

// NewDetector constructs a Detector with the standard thresholds:
// 200 km/h implied speed, 50 km/h speed delta within 5 s, 1 h clock skew.
func NewDetector() *Detector {
	return &Detector{
		maxImpliedSpeedKmh: geo.MaxSpeedKmh,
		maxSpeedDeltaKmh:   50,
		accelWindow:        5 * time.Second,
		maxClockSkew:       time.Hour,
		now:                time.Now,
	}
}

// WithClock overrides the wall clock (tests only).
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Check compares cur against prev and returns advisory warnings. A nil prev
// means no history exists yet: jump and acceleration checks are skipped
// silently and the first sample is trusted pending range checks.
func (d *Detector) Check(prev *geo.Point, cur geo.Point) []string {
	var warnings []string

	if prev != nil {
		distanceKm := geo.HaversineKm(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
		elapsed := cur.Timestamp.Sub(prev.Timestamp)

		elapsedHours := elapsed.Hours()
		if elapsedHours < minElapsedHours {
			elapsedHours = minElapsedHours
		}
		if distanceKm/elapsedHours > d.maxImpliedSpeedKmh {
			warnings = append(warnings, WarnSuddenJump)
		}

		if prev.SpeedKmh != nil && cur.SpeedKmh != nil && elapsed >= 0 && elapsed <= d.accelWindow {
			if math.Abs(*cur.SpeedKmh-*prev.SpeedKmh) > d.maxSpeedDeltaKmh {
				warnings = append(warnings, WarnAcceleration)
			}
		}
	}

	// range re-checks: defense in depth even after sanitization
	if !geo.ValidLatitude(cur.Latitude) {
		warnings = append(warnings, WarnLatitudeRange)
	}
	if !geo.ValidLongitude(cur.Longitude) {
		warnings = append(warnings, WarnLongitudeRange)
	}
	if cur.SpeedKmh != nil && !geo.ValidSpeed(*cur.SpeedKmh) {
		warnings = append(warnings, WarnSpeedRange)
	}
	if cur.Heading != nil && !geo.ValidHeading(*cur.Heading) {
		warnings = append(warnings, WarnHeadingRange)
	}

	if skew := d.now().UTC().Sub(cur.Timestamp); skew > d.maxClockSkew || skew < -d.maxClockSkew {
		warnings = append(warnings, WarnTimestampSkew)
	}

	return warnings
}
