package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/nayanladumor10/Latest-backend/internal/feeds"
	"github.com/nayanladumor10/Latest-backend/internal/hub"
	"github.com/nayanladumor10/Latest-backend/internal/models"
	"github.com/nayanladumor10/Latest-backend/internal/reports"
	"github.com/nayanladumor10/Latest-backend/internal/snapshot"
	"github.com/nayanladumor10/Latest-backend/internal/store"
	"github.com/nayanladumor10/Latest-backend/internal/watch"
)

type memStore struct {
	mu       sync.Mutex
	drivers  []models.Driver
	statuses map[string]string
	moves    map[string]models.Location
}

func newMemStore(drivers ...models.Driver) *memStore {
	return &memStore{
		drivers:  drivers,
		statuses: make(map[string]string),
		moves:    make(map[string]models.Location),
	}
}

func (m *memStore) ListDrivers(_ context.Context) ([]models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Driver, len(m.drivers))
	copy(out, m.drivers)
	return out, nil
}

func (m *memStore) ListVehicles(_ context.Context) ([]models.Vehicle, error) {
	return []models.Vehicle{}, nil
}

func (m *memStore) ListRides(_ context.Context) ([]models.Ride, error) {
	return []models.Ride{}, nil
}

func (m *memStore) ListAdmins(_ context.Context) ([]models.Admin, error) {
	return []models.Admin{}, nil
}

func (m *memStore) GetDriver(_ context.Context, id string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.drivers {
		if m.drivers[i].ID == id {
			d := m.drivers[i]
			return &d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) UpdateDriver(_ context.Context, _ *models.Driver) error { return nil }

func (m *memStore) UpdateDriverStatus(_ context.Context, id, status string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	return nil
}

func (m *memStore) UpdateDriverLocation(_ context.Context, id string, loc models.Location, _ float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves[id] = loc
	return nil
}

func (m *memStore) CountDrivers(_ context.Context, _ bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.drivers), nil
}

func (m *memStore) LastModified(_ context.Context, _ string) (time.Time, error) {
	return time.Time{}, nil
}

func (m *memStore) Subscribe(_ context.Context, _ string) (store.Subscription, error) {
	return nil, store.ErrChangeStreamsUnsupported
}

func (m *memStore) statusOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[id]
}

type fixedAggregator struct{}

func (fixedAggregator) ComputeDashboardStats(_ context.Context) (*models.DashboardStats, error) {
	return &models.DashboardStats{TotalDrivers: 1}, nil
}

func (fixedAggregator) ComputeReport(_ context.Context, kind string, _ models.ReportFilter) (map[string]interface{}, error) {
	if kind == snapshot.FeedEarnings {
		return map[string]interface{}{
			"chartData": []interface{}{map[string]interface{}{"date": "2024-03-01", "earnings": 120.0}},
			"summary":   map[string]interface{}{"totalEarnings": 120.0, "totalRides": 3},
		}, nil
	}
	return map[string]interface{}{
		"totalEarnings": 120.0, "totalRides": 3, "completedRides": 3, "cancelledRides": 0,
	}, nil
}

type fixture struct {
	handlers *CoreHandlers
	hub      *hub.Hub
	cache    *snapshot.Cache
	store    *memStore
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	cache := snapshot.NewCache(logger)
	h := hub.NewHub(hub.DefaultConfig(), cache, logger, nil)
	st := newMemStore(models.Driver{ID: "d1", Name: "Asha", Status: models.DriverIdle, IsOnline: true})

	mgr := watch.NewManager(watch.DefaultConfig(), st, cache, fixedAggregator{}, h, logger, nil)
	svc := reports.NewService(reports.DefaultConfig(), fixedAggregator{}, cache, h, h, logger, nil)

	handlers := NewCoreHandlers(h, st, mgr, svc, cache, logger)
	h.SetRequestHandler(handlers)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", handlers.HandleWebSocket)
	router.GET("/internal/connections", handlers.HandleConnections)
	router.POST("/internal/reports/refresh", handlers.HandleReportsRefresh)
	router.NoRoute(handlers.HandleNotFound)

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return &fixture{handlers: handlers, hub: h, cache: cache, store: st, server: server}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := strings.Replace(f.server.URL, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) hub.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg hub.Message
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("bad frame %s: %v", raw, err)
	}
	return msg
}

func TestHandleConnections(t *testing.T) {
	f := newFixture(t)
	f.cache.Commit(snapshot.FeedDrivers, []models.Driver{{ID: "d1"}})
	f.dial(t)

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get(f.server.URL + "/internal/connections")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Count       int                  `json:"count"`
		Connections []hub.ConnectionInfo `json:"connections"`
		Feeds       map[string]string    `json:"feeds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Count != 1 || len(body.Connections) != 1 {
		t.Fatalf("expected one registered connection, got %+v", body)
	}
	if body.Feeds[snapshot.FeedDrivers] == "" {
		t.Fatalf("expected a commit time for the drivers feed, got %+v", body.Feeds)
	}
	if _, ok := body.Feeds[snapshot.FeedRides]; ok {
		t.Fatalf("uncommitted feeds must be omitted, got %+v", body.Feeds)
	}
}

func TestHandleReportsRefresh(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.server.URL+"/internal/reports/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}

func TestHandleNotFound(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/nope")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestJoinRoom_InvalidRoomRejected(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	if err := conn.WriteJSON(map[string]string{"action": "join-room", "room": "lounge"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readEvent(t, conn); msg.Event != feeds.EventError {
		t.Fatalf("expected error event, got %s", msg.Event)
	}
}

func TestUpdateDriverStatus(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	if err := conn.WriteJSON(map[string]interface{}{
		"action":   "updateDriverStatus",
		"driverId": "d1",
		"status":   models.DriverOffline,
		"isOnline": false,
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.store.statusOf("d1") == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.store.statusOf("d1"); got != models.DriverOffline {
		t.Fatalf("expected persisted status offline, got %q", got)
	}
}

func TestUpdateDriverStatus_InvalidStatus(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	if err := conn.WriteJSON(map[string]interface{}{
		"action":   "updateDriverStatus",
		"driverId": "d1",
		"status":   "parked",
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readEvent(t, conn); msg.Event != feeds.EventError {
		t.Fatalf("expected error event for unknown status, got %s", msg.Event)
	}
}

func TestUpdateLocation_BroadcastsImmediately(t *testing.T) {
	f := newFixture(t)
	watcherConn := f.dial(t)
	senderConn := f.dial(t)

	if err := watcherConn.WriteJSON(map[string]string{"action": "join-room", "room": feeds.RoomDrivers}); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if msg := readEvent(t, watcherConn); msg.Event != feeds.EventJoinedRoom {
		t.Fatalf("expected join confirmation, got %s", msg.Event)
	}

	if err := senderConn.WriteJSON(map[string]interface{}{
		"action":   "updateLocation",
		"driverId": "d1",
		"lat":      12.97,
		"lng":      77.59,
		"speed":    41.0,
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readEvent(t, watcherConn)
	if msg.Event != feeds.EventLocationUpdate {
		t.Fatalf("expected locationUpdate, got %s", msg.Event)
	}
	data := msg.Data.(map[string]interface{})
	if data["driverId"] != "d1" {
		t.Fatalf("expected d1 location update, got %+v", data)
	}
}

func TestGetLatestData_AnswersFromCache(t *testing.T) {
	f := newFixture(t)
	f.cache.Commit(snapshot.FeedDrivers, []models.Driver{{ID: "d1", Name: "Asha"}})
	conn := f.dial(t)

	if err := conn.WriteJSON(map[string]string{"action": "getLatestData", "model": "drivers"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readEvent(t, conn); msg.Event != feeds.EventDriversUpdate {
		t.Fatalf("expected cached driversUpdate reply, got %s", msg.Event)
	}
}

func TestGetLatestData_CacheOnlyModelHasNoError(t *testing.T) {
	f := newFixture(t)
	f.cache.Commit(snapshot.FeedDashboardStats, &models.DashboardStats{TotalDrivers: 2})
	conn := f.dial(t)

	if err := conn.WriteJSON(map[string]string{"action": "getLatestData", "model": snapshot.FeedDashboardStats}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readEvent(t, conn); msg.Event != feeds.EventDashboardStats {
		t.Fatalf("expected cached dashboardStats reply, got %s", msg.Event)
	}

	// the cached answer settles the request; no error frame may follow
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected extra frame %s", raw)
	}
}

func TestRequestEarningsReport_RepliesToRequester(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	if err := conn.WriteJSON(map[string]interface{}{
		"action": "requestEarningsReport",
		"params": map[string]string{"from": "2024-03-01", "to": "2024-03-31"},
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readEvent(t, conn)
	if msg.Event != feeds.EventEarningsReport {
		t.Fatalf("expected earnings report reply, got %s", msg.Event)
	}

	// the requester's filter becomes the representative one
	deadline := time.Now().Add(2 * time.Second)
	for f.hub.FirstReportFilter().IsZero() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.hub.FirstReportFilter(); got.From != "2024-03-01" {
		t.Fatalf("expected stored filter, got %+v", got)
	}
}

func TestRequestEarningsReport_UnknownDriverRejected(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	if err := conn.WriteJSON(map[string]interface{}{
		"action": "requestEarningsReport",
		"params": map[string]string{"driverId": "ghost"},
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readEvent(t, conn); msg.Event != feeds.EventError {
		t.Fatalf("expected error for unknown driver, got %s", msg.Event)
	}
}

func TestUnknownAction(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	if err := conn.WriteJSON(map[string]string{"action": "teleport"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readEvent(t, conn); msg.Event != feeds.EventError {
		t.Fatalf("expected error for unknown action, got %s", msg.Event)
	}
}
