package anomaly

import (
	"testing"
	"time"

	"bus-track/internal/domain/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var detectorNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestDetector() *Detector {
	return NewDetector().WithClock(func() time.Time { return detectorNow })
}

func f64(v float64) *float64 { return &v }

func pointAt(lat, lng float64, ts time.Time) geo.Point {
	return geo.Point{
		DriverID:  "driver-1",
		BusID:     "bus-1",
		Latitude:  lat,
		Longitude: lng,
		Timestamp: ts,
	}
}

func TestCheckFirstSampleHasNoMotionWarnings(t *testing.T) {
	d := newTestDetector()

	warnings := d.Check(nil, pointAt(43.24, 76.89, detectorNow))
	assert.Empty(t, warnings)
}

func TestCheckFlagsSuddenJump(t *testing.T) {
	d := newTestDetector()

	prev := pointAt(43.24, 76.89, detectorNow.Add(-10*time.Second))
	// roughly 111 km north in 10 seconds
	cur := pointAt(44.24, 76.89, detectorNow)

	warnings := d.Check(&prev, cur)
	require.Contains(t, warnings, WarnSuddenJump)
}

func TestCheckAllowsPlausibleMotion(t *testing.T) {
	d := newTestDetector()

	prev := pointAt(43.2400, 76.8900, detectorNow.Add(-10*time.Second))
	// about 110 m in 10 seconds, roughly 40 km/h
	cur := pointAt(43.2410, 76.8900, detectorNow)

	warnings := d.Check(&prev, cur)
	assert.Empty(t, warnings)
}

func TestCheckSameTimestampDoesNotDivideByZero(t *testing.T) {
	d := newTestDetector()

	prev := pointAt(43.24, 76.89, detectorNow)
	cur := pointAt(44.24, 76.89, detectorNow) // 111 km, zero elapsed

	warnings := d.Check(&prev, cur)
	require.Contains(t, warnings, WarnSuddenJump)
}

func TestCheckFlagsUnrealisticAcceleration(t *testing.T) {
	d := newTestDetector()

	prev := pointAt(43.2400, 76.89, detectorNow.Add(-3*time.Second))
	prev.SpeedKmh = f64(10)
	cur := pointAt(43.2401, 76.89, detectorNow)
	cur.SpeedKmh = f64(80)

	warnings := d.Check(&prev, cur)
	require.Contains(t, warnings, WarnAcceleration)
}

func TestCheckIgnoresSpeedDeltaOutsideWindow(t *testing.T) {
	d := newTestDetector()

	prev := pointAt(43.2400, 76.89, detectorNow.Add(-30*time.Second))
	prev.SpeedKmh = f64(10)
	cur := pointAt(43.2410, 76.89, detectorNow)
	cur.SpeedKmh = f64(80)

	warnings := d.Check(&prev, cur)
	assert.NotContains(t, warnings, WarnAcceleration)
}

func TestCheckRangeWarnings(t *testing.T) {
	d := newTestDetector()

	cur := pointAt(95, 200, detectorNow)
	cur.SpeedKmh = f64(250)
	cur.Heading = f64(400)

	warnings := d.Check(nil, cur)
	assert.Contains(t, warnings, WarnLatitudeRange)
	assert.Contains(t, warnings, WarnLongitudeRange)
	assert.Contains(t, warnings, WarnSpeedRange)
	assert.Contains(t, warnings, WarnHeadingRange)
}

func TestCheckFlagsClockSkew(t *testing.T) {
	d := newTestDetector()

	cases := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"two hours old", detectorNow.Add(-2 * time.Hour), true},
		{"two hours ahead", detectorNow.Add(2 * time.Hour), true},
		{"within the hour", detectorNow.Add(-30 * time.Minute), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			warnings := d.Check(nil, pointAt(43.24, 76.89, tc.ts))
			if tc.want {
				assert.Contains(t, warnings, WarnTimestampSkew)
			} else {
				assert.NotContains(t, warnings, WarnTimestampSkew)
			}
		})
	}
}

func TestCheckAccumulatesCategories(t *testing.T) {
	d := newTestDetector()

	prev := pointAt(43.24, 76.89, detectorNow.Add(-2*time.Second))
	prev.SpeedKmh = f64(5)
	cur := pointAt(44.24, 76.89, detectorNow) // jump
	cur.SpeedKmh = f64(90)                    // acceleration

	warnings := d.Check(&prev, cur)
	require.Len(t, warnings, 2)
	assert.Equal(t, []string{WarnSuddenJump, WarnAcceleration}, warnings)
}
