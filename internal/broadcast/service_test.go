package broadcast

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bus-track/internal/contracts"
	"bus-track/internal/domain/geo"
	"bus-track/internal/fallback"
	"bus-track/internal/logger"
	"bus-track/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bcNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeWriter struct {
	fail  bool
	saved []geo.Point
}

func (w *fakeWriter) SaveLocation(_ context.Context, p geo.Point) (string, error) {
	if w.fail {
		return "", errors.New("connection refused")
	}
	w.saved = append(w.saved, p)
	return fmt.Sprintf("loc-%d", len(w.saved)), nil
}

type broadcastCall struct {
	topic string
	event string
	data  any
}

type sendCall struct {
	sessionID string
	event     string
	data      any
}

type fakeEmitter struct {
	broadcasts []broadcastCall
	sends      []sendCall
}

func (e *fakeEmitter) Broadcast(topic, event string, data any) {
	e.broadcasts = append(e.broadcasts, broadcastCall{topic, event, data})
}

func (e *fakeEmitter) SendTo(sessionID, event string, data any) error {
	e.sends = append(e.sends, sendCall{sessionID, event, data})
	return nil
}

type fakeEnricher struct {
	eta      *contracts.ETA
	nearStop *contracts.NearStop
	err      error
	calls    int
}

func (f *fakeEnricher) ETA(context.Context, float64, float64, string) (*contracts.ETA, error) {
	f.calls++
	return f.eta, f.err
}

func (f *fakeEnricher) NearStop(context.Context, float64, float64, string) (*contracts.NearStop, error) {
	f.calls++
	return f.nearStop, f.err
}

type fakeMirror struct {
	published [][]byte
	exchanges []string
	fail      bool
}

func (m *fakeMirror) Publish(exchange, _ string, body []byte) error {
	if m.fail {
		return errors.New("channel closed")
	}
	m.exchanges = append(m.exchanges, exchange)
	m.published = append(m.published, body)
	return nil
}

func testPoint(lat float64, ts time.Time) geo.Point {
	return geo.Point{
		DriverID:  "driver-1",
		BusID:     "bus-1",
		Latitude:  lat,
		Longitude: 76.89,
		Timestamp: ts,
	}
}

func TestPublishPersistsThenBroadcasts(t *testing.T) {
	writer := &fakeWriter{}
	emitter := &fakeEmitter{}
	enricher := &fakeEnricher{eta: &contracts.ETA{StopID: "stop-1", Seconds: 120}}
	svc := New(writer, enricher, emitter, nil, logger.New("test"))

	err := svc.Publish(context.Background(), "sess-1", "route-1", testPoint(43.24, bcNow))
	require.NoError(t, err)

	require.Len(t, writer.saved, 1)
	require.Len(t, emitter.broadcasts, 1)

	b := emitter.broadcasts[0]
	assert.Equal(t, session.TopicAllBuses, b.topic)
	assert.Equal(t, contracts.EventBusLocationUpdate, b.event)

	update, ok := b.data.(contracts.BusLocationUpdate)
	require.True(t, ok)
	assert.Equal(t, "bus-1", update.BusID)
	assert.Equal(t, 43.24, update.Latitude)
	require.NotNil(t, update.ETA)
	assert.Equal(t, 120, update.ETA.Seconds)

	require.Len(t, emitter.sends, 1)
	assert.Equal(t, "sess-1", emitter.sends[0].sessionID)
	assert.Equal(t, contracts.EventDriverLocationConfirmed, emitter.sends[0].event)
	confirm, ok := emitter.sends[0].data.(contracts.DriverLocationConfirmed)
	require.True(t, ok)
	assert.Equal(t, "loc-1", confirm.LocationID)
}

func TestPublishStorageFailureBlocksBroadcast(t *testing.T) {
	writer := &fakeWriter{fail: true}
	emitter := &fakeEmitter{}
	svc := New(writer, &fakeEnricher{}, emitter, nil, logger.New("test"))

	err := svc.Publish(context.Background(), "sess-1", "route-1", testPoint(43.24, bcNow))
	require.ErrorIs(t, err, ErrTransient)
	assert.Empty(t, emitter.broadcasts, "a sample that was not recorded is never broadcast")
	assert.Empty(t, emitter.sends)
}

func TestPublishWithoutRouteSkipsEnrichment(t *testing.T) {
	emitter := &fakeEmitter{}
	enricher := &fakeEnricher{eta: &contracts.ETA{StopID: "stop-1"}}
	svc := New(&fakeWriter{}, enricher, emitter, nil, logger.New("test"))

	require.NoError(t, svc.Publish(context.Background(), "sess-1", "", testPoint(43.24, bcNow)))

	assert.Zero(t, enricher.calls)
	update := emitter.broadcasts[0].data.(contracts.BusLocationUpdate)
	assert.Nil(t, update.ETA)
	assert.Nil(t, update.NearStop)
}

func TestPublishEnrichmentFailureDegradesGracefully(t *testing.T) {
	emitter := &fakeEmitter{}
	enricher := &fakeEnricher{err: errors.New("stops table missing")}
	svc := New(&fakeWriter{}, enricher, emitter, nil, logger.New("test"))

	require.NoError(t, svc.Publish(context.Background(), "sess-1", "route-1", testPoint(43.24, bcNow)))

	require.Len(t, emitter.broadcasts, 1)
	update := emitter.broadcasts[0].data.(contracts.BusLocationUpdate)
	assert.Nil(t, update.ETA, "enrichment failures null the field, they never block the broadcast")
}

func TestPublishEmitsArrivingInsideGeofence(t *testing.T) {
	emitter := &fakeEmitter{}
	enricher := &fakeEnricher{
		nearStop: &contracts.NearStop{StopID: "stop-1", DistanceKm: 0.05, IsNearStop: true},
	}
	svc := New(&fakeWriter{}, enricher, emitter, nil, logger.New("test"))

	require.NoError(t, svc.Publish(context.Background(), "sess-1", "route-1", testPoint(43.24, bcNow)))

	require.Len(t, emitter.broadcasts, 2)
	assert.Equal(t, contracts.EventBusArriving, emitter.broadcasts[1].event)

	arriving := emitter.broadcasts[1].data.(contracts.BusArriving)
	assert.Equal(t, [2]float64{76.89, 43.24}, arriving.Location, "GeoJSON order: lng first")
}

func TestPublishNoArrivingOutsideGeofence(t *testing.T) {
	emitter := &fakeEmitter{}
	enricher := &fakeEnricher{
		nearStop: &contracts.NearStop{StopID: "stop-1", DistanceKm: 1.4, IsNearStop: false},
	}
	svc := New(&fakeWriter{}, enricher, emitter, nil, logger.New("test"))

	require.NoError(t, svc.Publish(context.Background(), "sess-1", "route-1", testPoint(43.24, bcNow)))
	require.Len(t, emitter.broadcasts, 1)
}

func TestPublishPreservesPerBusOrdering(t *testing.T) {
	writer := &fakeWriter{}
	emitter := &fakeEmitter{}
	svc := New(writer, &fakeEnricher{}, emitter, nil, logger.New("test"))

	for i := 0; i < 5; i++ {
		p := testPoint(43.24+float64(i)/1000, bcNow.Add(time.Duration(i)*time.Second))
		require.NoError(t, svc.Publish(context.Background(), "sess-1", "", p))
	}

	require.Len(t, emitter.broadcasts, 5)
	for i, b := range emitter.broadcasts {
		update := b.data.(contracts.BusLocationUpdate)
		assert.Equal(t, bcNow.Add(time.Duration(i)*time.Second), update.Timestamp)
	}
}

func TestPublishMirrorsToFanoutExchange(t *testing.T) {
	mirror := &fakeMirror{}
	svc := New(&fakeWriter{}, &fakeEnricher{}, &fakeEmitter{}, mirror, logger.New("test"))

	require.NoError(t, svc.Publish(context.Background(), "sess-1", "", testPoint(43.24, bcNow)))

	require.Len(t, mirror.published, 1)
	assert.Equal(t, contracts.ExchangeLocationFanout, mirror.exchanges[0])
}

func TestPublishMirrorFailureIsBestEffort(t *testing.T) {
	mirror := &fakeMirror{fail: true}
	emitter := &fakeEmitter{}
	svc := New(&fakeWriter{}, &fakeEnricher{}, emitter, mirror, logger.New("test"))

	require.NoError(t, svc.Publish(context.Background(), "sess-1", "", testPoint(43.24, bcNow)))
	require.Len(t, emitter.sends, 1, "the driver confirmation still goes out")
}

func TestPublishRecordsLastKnownPosition(t *testing.T) {
	store := fallback.NewMemoryStore()
	svc := New(&fakeWriter{}, &fakeEnricher{}, &fakeEmitter{}, nil, logger.New("test")).WithCache(store)

	require.NoError(t, svc.Publish(context.Background(), "sess-1", "", testPoint(43.24, bcNow)))

	rec, err := store.Get(context.Background(), "bus-1", "driver-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 43.24, rec.Latitude)
	assert.Equal(t, 1.0, rec.Confidence)
}
