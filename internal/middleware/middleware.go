package middleware

import (
	"context"
	"strings"
	"sync"

	"bus-track/internal/anomaly"
	"bus-track/internal/domain/geo"
	"bus-track/internal/fallback"
	"bus-track/internal/logger"
	"bus-track/internal/validate"
)

// Source values for Metadata.Source.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
)

// Confidence penalties applied multiplicatively.
const (
	anomalyPenalty  = 0.8 // per anomaly category
	sanitizePenalty = 0.9 // when sanitization altered the payload
)

// Config toggles the three independent stages of the client-side pass.
type Config struct {
	Sanitize      bool
	AnomalyDetect bool
	Fallback      bool
}

// Metadata carries provenance for a processed update.
type Metadata struct {
	Sanitized    bool    `json:"sanitized"`
	UsedFallback bool    `json:"usedFallback"`
	Confidence   float64 `json:"confidence"`
	Source       string  `json:"source"`
}

// Processed is what downstream consumers (map UI, broadcast log) read.
type Processed struct {
	Success  bool             `json:"success"`
	Data     *geo.Point       `json:"data,omitempty"`
	Fallback *fallback.Record `json:"fallback,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
	Errors   []string         `json:"errors,omitempty"`
	Metadata Metadata         `json:"metadata"`
}

// Middleware re-validates inbound broadcasts before they reach application
// state: the wire is not trusted blindly (replay, corruption, partial
// packets). Construct explicitly; there is no shared global instance.
type Middleware struct {
	cfg       Config
	validator *validate.Validator
	detector  *anomaly.Detector
	store     fallback.Store
	log       *logger.Logger

	// previous accepted sample per (bus, driver); richer than the fallback
	// record because it retains reported speed for the acceleration check
	mu   sync.Mutex
	prev map[string]geo.Point
}

// New constructs a Middleware with injected collaborators so independent
// instances can be tested in isolation.
func New(cfg Config, v *validate.Validator, d *anomaly.Detector, store fallback.Store, log *logger.Logger) *Middleware {
	return &Middleware{
		cfg:       cfg,
		validator: v,
		detector:  d,
		store:     store,
		log:       log,
		prev:      make(map[string]geo.Point),
	}
}

// Process runs the configured pipeline on one inbound update.
func (m *Middleware) Process(ctx context.Context, raw geo.Sample) Processed {
	sanitized := false
	if m.cfg.Sanitize {
		raw, sanitized = m.sanitize(raw)
	}

	point, errs := m.check(raw)
	if len(errs) > 0 {
		return m.degrade(ctx, raw, errs)
	}

	confidence := 1.0
	var warnings []string
	if m.cfg.AnomalyDetect {
		warnings = m.detector.Check(m.previous(point.BusID, point.DriverID), *point)
		for range warnings {
			confidence *= anomalyPenalty
		}
	}
	if sanitized {
		confidence *= sanitizePenalty
	}

	m.remember(*point)
	if m.store != nil {
		rec := fallback.Record{
			BusID:      point.BusID,
			DriverID:   point.DriverID,
			Latitude:   point.Latitude,
			Longitude:  point.Longitude,
			Timestamp:  point.Timestamp,
			Confidence: confidence,
		}
		if err := m.store.Cache(ctx, rec); err != nil && m.log != nil {
			m.log.Error(ctx, "fallback_cache_failed", "Failed to cache last-known-good record", err, map[string]any{
				"bus_id":    point.BusID,
				"driver_id": point.DriverID,
			})
		}
	}

	return Processed{
		Success:  true,
		Data:     point,
		Warnings: warnings,
		Metadata: Metadata{
			Sanitized:  sanitized,
			Confidence: confidence,
			Source:     SourcePrimary,
		},
	}
}

// sanitize trims identifier fields. It repairs shape only, never values:
// out-of-range coordinates stay untouched and fail the strict check below.
func (m *Middleware) sanitize(raw geo.Sample) (geo.Sample, bool) {
	altered := false
	if trimmed := strings.TrimSpace(raw.DriverID); trimmed != raw.DriverID {
		raw.DriverID = trimmed
		altered = true
	}
	if trimmed := strings.TrimSpace(raw.BusID); trimmed != raw.BusID {
		raw.BusID = trimmed
		altered = true
	}
	if trimmed := strings.TrimSpace(raw.Timestamp); trimmed != raw.Timestamp {
		raw.Timestamp = trimmed
		altered = true
	}
	return raw, altered
}

// check validates the sample shape. With Sanitize enabled the strict
// validator rules apply (ranges, freshness); otherwise only presence and
// type checks run, leaving range violations to the anomaly pass.
func (m *Middleware) check(raw geo.Sample) (*geo.Point, []string) {
	// a broadcast update with no busId cannot be attributed; hard failure
	if raw.BusID == "" {
		return nil, []string{"busId is required"}
	}

	if m.cfg.Sanitize {
		res := m.validator.ValidateShape(raw)
		if !res.Success {
			return nil, res.Errors
		}
		return res.Sample, nil
	}

	point, errs := presenceOnly(raw)
	if len(errs) > 0 {
		return nil, errs
	}
	return point, nil
}

// degrade answers a hard failure from the fallback cache when enabled.
// Coordinates are never fabricated: a cache miss is a plain failure.
func (m *Middleware) degrade(ctx context.Context, raw geo.Sample, errs []string) Processed {
	if m.cfg.Fallback && m.store != nil {
		rec, err := m.store.Get(ctx, raw.BusID, raw.DriverID)
		if err != nil && m.log != nil {
			m.log.Error(ctx, "fallback_lookup_failed", "Fallback store lookup failed", err, map[string]any{
				"bus_id":    raw.BusID,
				"driver_id": raw.DriverID,
			})
		}
		if rec != nil {
			return Processed{
				Success:  true,
				Fallback: rec,
				Warnings: errs,
				Metadata: Metadata{
					UsedFallback: true,
					Confidence:   rec.Confidence,
					Source:       SourceFallback,
				},
			}
		}
	}

	return Processed{
		Success: false,
		Errors:  errs,
		Metadata: Metadata{
			Source: SourcePrimary,
		},
	}
}

func (m *Middleware) previous(busID, driverID string) *geo.Point {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.prev[busID+"|"+driverID]; ok {
		return &p
	}
	return nil
}

func (m *Middleware) remember(p geo.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prev[p.BusID+"|"+p.DriverID] = p
}

// presenceOnly checks required fields and that the timestamp parses, with
// no range or freshness enforcement.
func presenceOnly(raw geo.Sample) (*geo.Point, []string) {
	if raw.DriverID == "" {
		return nil, []string{validate.MsgDriverIDRequired}
	}
	if raw.Latitude == nil {
		return nil, []string{validate.MsgLatitudeRequired}
	}
	if raw.Longitude == nil {
		return nil, []string{validate.MsgLongitudeRequired}
	}
	if raw.Timestamp == "" {
		return nil, []string{validate.MsgTimestampRequired}
	}
	ts, err := validate.ParseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, []string{validate.MsgTimestampInvalid}
	}
	return &geo.Point{
		DriverID:  raw.DriverID,
		BusID:     raw.BusID,
		Latitude:  *raw.Latitude,
		Longitude: *raw.Longitude,
		Timestamp: ts,
		SpeedKmh:  raw.SpeedKmh,
		Heading:   raw.Heading,
	}, nil
}
