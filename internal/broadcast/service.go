package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bus-track/internal/contracts"
	"bus-track/internal/domain/geo"
	"bus-track/internal/fallback"
	"bus-track/internal/logger"
	"bus-track/internal/routes"
	"bus-track/internal/session"
)

// ErrTransient: the sample could not be durably recorded. Surfaced to the
// originating session only; nothing is broadcast for it.
var ErrTransient = errors.New("transient storage failure")

// LocationWriter persists one validated sample and returns its storage id.
type LocationWriter interface {
	SaveLocation(ctx context.Context, p geo.Point) (string, error)
}

// Emitter delivers messages to topics and to single sessions. A send to a
// session that disconnected mid-flight is discarded, not an error.
type Emitter interface {
	Broadcast(topic, event string, data any)
	SendTo(sessionID, event string, data any) error
}

// Mirror forwards broadcasts to the AMQP fanout exchange for downstream
// services (history, notifications). Best-effort.
type Mirror interface {
	Publish(exchange, routingKey string, body []byte) error
}

// Service implements the fan-out sequence for one validated sample:
// persist, enrich, broadcast, confirm.
type Service struct {
	writer   LocationWriter
	enricher routes.Service
	emitter  Emitter
	mirror   Mirror
	cache    fallback.Store
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the fan-out service. mirror may be nil (no AMQP configured).
func New(writer LocationWriter, enricher routes.Service, emitter Emitter, mirror Mirror, log *logger.Logger) *Service {
	return &Service{
		writer:   writer,
		enricher: enricher,
		emitter:  emitter,
		mirror:   mirror,
		log:      log,
		now:      time.Now,
	}
}

// WithCache records every persisted sample as the bus's last known position.
// The cache only ever holds coordinates that were actually reported.
func (s *Service) WithCache(store fallback.Store) *Service {
	s.cache = store
	return s
}

// Publish runs the full fan-out for a validated sample from sessionID.
// routeID may be empty: enrichment is skipped and the broadcast carries
// null eta/nearStop.
func (s *Service) Publish(ctx context.Context, sessionID, routeID string, p geo.Point) error {
	// 1) persist first; never broadcast a sample that was not recorded
	locationID, err := s.writer.SaveLocation(ctx, p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if s.cache != nil {
		if err := s.cache.Cache(ctx, fallback.Record{
			BusID:      p.BusID,
			DriverID:   p.DriverID,
			Latitude:   p.Latitude,
			Longitude:  p.Longitude,
			Timestamp:  p.Timestamp,
			Confidence: 1,
		}); err != nil {
			s.log.Debug(ctx, "fallback_cache_write_failed", "Last-known position not cached", map[string]any{
				"bus_id": p.BusID,
				"error":  err.Error(),
			})
		}
	}

	// 2) enrichment is gated on a route assignment and is best-effort:
	// a failing route service degrades the broadcast, it does not block it
	var eta *contracts.ETA
	var nearStop *contracts.NearStop
	if routeID != "" {
		if eta, err = s.enricher.ETA(ctx, p.Latitude, p.Longitude, routeID); err != nil {
			s.log.Error(ctx, "eta_enrichment_failed", "ETA lookup failed; broadcasting without it", err, map[string]any{
				"bus_id":   p.BusID,
				"route_id": routeID,
			})
			eta = nil
		}
		if nearStop, err = s.enricher.NearStop(ctx, p.Latitude, p.Longitude, routeID); err != nil {
			s.log.Error(ctx, "near_stop_enrichment_failed", "Near-stop lookup failed; broadcasting without it", err, map[string]any{
				"bus_id":   p.BusID,
				"route_id": routeID,
			})
			nearStop = nil
		}
	}

	// 3) public broadcast to every viewer and admin
	update := contracts.BusLocationUpdate{
		BusID:     p.BusID,
		DriverID:  p.DriverID,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: p.Timestamp,
		Speed:     p.SpeedKmh,
		Heading:   p.Heading,
		ETA:       eta,
		NearStop:  nearStop,
	}
	s.emitter.Broadcast(session.TopicAllBuses, contracts.EventBusLocationUpdate, update)

	// 4) distinct arriving event when inside a stop geofence
	if nearStop != nil && nearStop.IsNearStop {
		s.emitter.Broadcast(session.TopicAllBuses, contracts.EventBusArriving, contracts.BusArriving{
			BusID:     p.BusID,
			RouteID:   routeID,
			Location:  [2]float64{p.Longitude, p.Latitude},
			Timestamp: p.Timestamp,
		})
	}

	// 5) mirror to AMQP for downstream consumers; never fails the WS path
	s.mirrorUpdate(ctx, update)

	// 6) private confirmation to the originating session only
	confirm := contracts.DriverLocationConfirmed{
		Timestamp:  p.Timestamp,
		LocationID: locationID,
	}
	if err := s.emitter.SendTo(sessionID, contracts.EventDriverLocationConfirmed, confirm); err != nil {
		// the socket may be gone already; deliberate best-effort semantics
		s.log.Debug(ctx, "location_confirm_dropped", "Confirmation not delivered", map[string]any{
			"session_id": sessionID,
			"bus_id":     p.BusID,
		})
	}

	s.log.Info(ctx, "location_broadcast", "Validated location fanned out", map[string]any{
		"bus_id":      p.BusID,
		"driver_id":   p.DriverID,
		"location_id": locationID,
		"near_stop":   nearStop != nil && nearStop.IsNearStop,
	})

	return nil
}

func (s *Service) mirrorUpdate(ctx context.Context, update contracts.BusLocationUpdate) {
	if s.mirror == nil {
		return
	}

	body, err := json.Marshal(contracts.LocationMirror{
		BusLocationUpdate: update,
		Producer:          contracts.Producer,
		SentAt:            s.now().UTC(),
	})
	if err != nil {
		s.log.Error(ctx, "mirror_marshal_failed", "Failed to encode mirror message", err, nil)
		return
	}
	if err := s.mirror.Publish(contracts.ExchangeLocationFanout, "", body); err != nil {
		s.log.Error(ctx, "mirror_publish_failed", "Failed to mirror broadcast to AMQP", err, map[string]any{
			"exchange": contracts.ExchangeLocationFanout,
			"bus_id":   update.BusID,
		})
	}
}
