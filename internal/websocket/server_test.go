package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bus-track/internal/auth"
	"bus-track/internal/broadcast"
	"bus-track/internal/contracts"
	"bus-track/internal/domain/bus"
	"bus-track/internal/domain/geo"
	"bus-track/internal/domain/user"
	"bus-track/internal/logger"
	"bus-track/internal/routes"
	"bus-track/internal/session"
	"bus-track/internal/validate"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wsTestSecret = "ws-test-secret"

type stubAssignments struct {
	byDriver map[string]*bus.Assignment
}

func (s *stubAssignments) AssignmentFor(_ context.Context, driverID string) (*bus.Assignment, error) {
	return s.byDriver[driverID], nil
}

type stubProfiles struct{}

func (stubProfiles) ProfileOf(context.Context, string) (*auth.Profile, error) { return nil, nil }

type stubStops struct {
	stops []bus.Stop
}

func (s *stubStops) StopsForRoute(context.Context, string) ([]bus.Stop, error) {
	return s.stops, nil
}

type memWriter struct {
	mu    sync.Mutex
	fail  bool
	saved []geo.Point
}

func (w *memWriter) SaveLocation(_ context.Context, p geo.Point) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return "", errors.New("storage offline")
	}
	w.saved = append(w.saved, p)
	return fmt.Sprintf("loc-%d", len(w.saved)), nil
}

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.saved)
}

type pipeline struct {
	ts     *httptest.Server
	writer *memWriter
}

// newPipeline wires the full driver-to-viewer path with in-memory
// collaborators: real gate, sessions, validator, enricher, and fan-out.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	log := logger.New("test")
	writer := &memWriter{}

	assignments := &stubAssignments{byDriver: map[string]*bus.Assignment{
		"driver-1": {DriverID: "driver-1", BusID: "bus-1", RouteID: "route-1"},
	}}
	gate := auth.NewGate(auth.NewManager(wsTestSecret, time.Hour), stubProfiles{}, assignments, auth.RoleFromClaimOrProfile)

	sessions := session.NewManager()
	validator := validate.New(5*time.Minute, time.Minute)

	srv := NewServer(log, gate, sessions, validator, nil, 0, 30*time.Second, 60*time.Second)

	stops := &stubStops{stops: []bus.Stop{
		{ID: "stop-1", RouteID: "route-1", Name: "School Gate", Latitude: 43.2400, Longitude: 76.8900, Seq: 1},
	}}
	enricher := routes.NewEnricher(stops, 30, 0.2)
	srv.AttachFanout(broadcast.New(writer, enricher, srv, nil, log))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/driver", srv.ServeDriver)
	mux.HandleFunc("/ws/viewer", srv.ServeViewer)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &pipeline{ts: ts, writer: writer}
}

func (p *pipeline) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(p.ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(contracts.Envelope{Type: event, Data: raw})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readEvent(t *testing.T, conn *websocket.Conn) contracts.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg contracts.Envelope
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func mintWSToken(t *testing.T, userID string, role user.Role) string {
	t.Helper()
	token, _, err := auth.NewManager(wsTestSecret, time.Hour).IssueUserToken(userID, role)
	require.NoError(t, err)
	return token
}

func locationPayload(lat, lng float64) map[string]any {
	return map[string]any{
		"driverId":  "driver-1",
		"latitude":  lat,
		"longitude": lng,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

func TestDriverUpdateReachesViewers(t *testing.T) {
	p := newPipeline(t)

	viewer := p.dial(t, "/ws/viewer")
	sendEvent(t, viewer, contracts.EventStudentConnect, struct{}{})
	require.Equal(t, contracts.EventStudentConnected, readEvent(t, viewer).Type)

	driver := p.dial(t, "/ws/driver")
	sendEvent(t, driver, contracts.EventDriverAuthenticate, contracts.AuthenticateRequest{
		Token: mintWSToken(t, "driver-1", user.RoleDriver),
	})

	authed := readEvent(t, driver)
	require.Equal(t, contracts.EventDriverAuthenticated, authed.Type)
	var grant contracts.DriverAuthenticated
	require.NoError(t, json.Unmarshal(authed.Data, &grant))
	assert.Equal(t, "bus-1", grant.BusID)

	// 100 m from the stop: inside the geofence
	sendEvent(t, driver, contracts.EventDriverLocationUpdate, locationPayload(43.2391, 76.8900))

	confirm := readEvent(t, driver)
	require.Equal(t, contracts.EventDriverLocationConfirmed, confirm.Type)
	var confirmed contracts.DriverLocationConfirmed
	require.NoError(t, json.Unmarshal(confirm.Data, &confirmed))
	assert.Equal(t, "loc-1", confirmed.LocationID)

	broadcastMsg := readEvent(t, viewer)
	require.Equal(t, contracts.EventBusLocationUpdate, broadcastMsg.Type)
	var update contracts.BusLocationUpdate
	require.NoError(t, json.Unmarshal(broadcastMsg.Data, &update))
	assert.Equal(t, "bus-1", update.BusID)
	assert.Equal(t, 43.2391, update.Latitude)
	require.NotNil(t, update.ETA, "route assignment gates enrichment on")
	assert.Equal(t, "stop-1", update.ETA.StopID)

	arriving := readEvent(t, viewer)
	require.Equal(t, contracts.EventBusArriving, arriving.Type)

	assert.Equal(t, 1, p.writer.count())
}

func TestUnauthenticatedUpdateIsRejected(t *testing.T) {
	p := newPipeline(t)

	driver := p.dial(t, "/ws/driver")
	sendEvent(t, driver, contracts.EventDriverLocationUpdate, locationPayload(43.24, 76.89))

	msg := readEvent(t, driver)
	require.Equal(t, contracts.EventError, msg.Type)
	var errMsg contracts.ErrorMessage
	require.NoError(t, json.Unmarshal(msg.Data, &errMsg))
	assert.Equal(t, validate.MsgUnauthorized, errMsg.Message)

	assert.Zero(t, p.writer.count(), "invalid samples are never persisted")
}

func TestAuthFailureKeepsConnectionOpenForRetry(t *testing.T) {
	p := newPipeline(t)

	driver := p.dial(t, "/ws/driver")
	sendEvent(t, driver, contracts.EventDriverAuthenticate, contracts.AuthenticateRequest{Token: "garbage"})

	msg := readEvent(t, driver)
	require.Equal(t, contracts.EventError, msg.Type)

	// same socket, valid credential: the retry succeeds
	sendEvent(t, driver, contracts.EventDriverAuthenticate, contracts.AuthenticateRequest{
		Token: mintWSToken(t, "driver-1", user.RoleDriver),
	})
	require.Equal(t, contracts.EventDriverAuthenticated, readEvent(t, driver).Type)
}

func TestSecondDriverForSameBusIsRejected(t *testing.T) {
	p := newPipeline(t)

	first := p.dial(t, "/ws/driver")
	sendEvent(t, first, contracts.EventDriverAuthenticate, contracts.AuthenticateRequest{
		Token: mintWSToken(t, "driver-1", user.RoleDriver),
	})
	require.Equal(t, contracts.EventDriverAuthenticated, readEvent(t, first).Type)

	second := p.dial(t, "/ws/driver")
	sendEvent(t, second, contracts.EventDriverAuthenticate, contracts.AuthenticateRequest{
		Token: mintWSToken(t, "driver-1", user.RoleDriver),
	})

	msg := readEvent(t, second)
	require.Equal(t, contracts.EventError, msg.Type)
	var errMsg contracts.ErrorMessage
	require.NoError(t, json.Unmarshal(msg.Data, &errMsg))
	assert.Contains(t, errMsg.Message, "active driver session")
}

func TestStorageFailureReachesOnlyTheDriver(t *testing.T) {
	p := newPipeline(t)
	p.writer.fail = true

	viewer := p.dial(t, "/ws/viewer")
	sendEvent(t, viewer, contracts.EventStudentConnect, struct{}{})
	require.Equal(t, contracts.EventStudentConnected, readEvent(t, viewer).Type)

	driver := p.dial(t, "/ws/driver")
	sendEvent(t, driver, contracts.EventDriverAuthenticate, contracts.AuthenticateRequest{
		Token: mintWSToken(t, "driver-1", user.RoleDriver),
	})
	require.Equal(t, contracts.EventDriverAuthenticated, readEvent(t, driver).Type)

	sendEvent(t, driver, contracts.EventDriverLocationUpdate, locationPayload(43.2391, 76.8900))

	msg := readEvent(t, driver)
	require.Equal(t, contracts.EventError, msg.Type)
	var errMsg contracts.ErrorMessage
	require.NoError(t, json.Unmarshal(msg.Data, &errMsg))
	assert.Equal(t, "failed to save location", errMsg.Message)

	// viewer sees nothing
	require.NoError(t, viewer.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := viewer.ReadMessage()
	require.Error(t, err, "no broadcast may follow a failed persist")
}

func TestAdminAuthenticatesOntoGlobalTopic(t *testing.T) {
	p := newPipeline(t)

	admin := p.dial(t, "/ws/viewer")
	sendEvent(t, admin, contracts.EventAdminAuthenticate, contracts.AuthenticateRequest{
		Token: mintWSToken(t, "admin-1", user.RoleAdmin),
	})

	msg := readEvent(t, admin)
	require.Equal(t, contracts.EventAdminAuthenticated, msg.Type)
	var authed contracts.AdminAuthenticated
	require.NoError(t, json.Unmarshal(msg.Data, &authed))
	assert.Equal(t, "admin-1", authed.AdminID)

	// student token cannot take the admin path
	student := p.dial(t, "/ws/viewer")
	sendEvent(t, student, contracts.EventAdminAuthenticate, contracts.AuthenticateRequest{
		Token: mintWSToken(t, "user-1", user.RoleStudent),
	})
	require.Equal(t, contracts.EventError, readEvent(t, student).Type)
}

func TestUnknownEventTypeGetsErrorEnvelope(t *testing.T) {
	p := newPipeline(t)

	driver := p.dial(t, "/ws/driver")
	sendEvent(t, driver, "driver:teleport", struct{}{})

	msg := readEvent(t, driver)
	require.Equal(t, contracts.EventError, msg.Type)
	var errMsg contracts.ErrorMessage
	require.NoError(t, json.Unmarshal(msg.Data, &errMsg))
	assert.Equal(t, "unknown message type", errMsg.Message)
}
