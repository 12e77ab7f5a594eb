package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nayanladumor10/Latest-backend/internal/feeds"
	"github.com/nayanladumor10/Latest-backend/internal/hub"
	"github.com/nayanladumor10/Latest-backend/internal/models"
	"github.com/nayanladumor10/Latest-backend/internal/reports"
	"github.com/nayanladumor10/Latest-backend/internal/snapshot"
	"github.com/nayanladumor10/Latest-backend/internal/store"
	"github.com/nayanladumor10/Latest-backend/internal/watch"
	"github.com/nayanladumor10/Latest-backend/pkg/logging"
)

// CoreHandlers binds the HTTP surface and inbound WebSocket requests to the
// sync core.
type CoreHandlers struct {
	hub       *hub.Hub
	store     store.Store
	watchers  *watch.Manager
	reports   *reports.Service
	cache     *snapshot.Cache
	logger    logging.Logger
	startTime time.Time
}

// NewCoreHandlers creates a handlers instance
func NewCoreHandlers(h *hub.Hub, st store.Store, watchers *watch.Manager, rp *reports.Service,
	cache *snapshot.Cache, logger logging.Logger) *CoreHandlers {
	return &CoreHandlers{
		hub:       h,
		store:     st,
		watchers:  watchers,
		reports:   rp,
		cache:     cache,
		logger:    logger,
		startTime: time.Now(),
	}
}

// HandleWebSocket serves WebSocket connections
func (h *CoreHandlers) HandleWebSocket(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

// HandleConnections returns a snapshot of the connection registry along
// with the commit time of every populated feed.
func (h *CoreHandlers) HandleConnections(c *gin.Context) {
	connections := h.hub.Connections()

	feedTimes := make(map[string]string)
	for _, kind := range snapshot.Kinds {
		if ts, ok := h.cache.Timestamp(kind); ok {
			feedTimes[kind] = ts.UTC().Format(time.RFC3339)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":       len(connections),
		"connections": connections,
		"feeds":       feedTimes,
		"uptime":      time.Since(h.startTime).String(),
	})
}

// HandleReportsRefresh requests an out-of-band reports broadcast cycle
func (h *CoreHandlers) HandleReportsRefresh(c *gin.Context) {
	go h.reports.TriggerReportsUpdate(context.Background())
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh scheduled"})
}

// HandleNotFound provides a custom 404 handler
func (h *CoreHandlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":   "not_found",
		"message": "Endpoint not found",
	})
}

// Inbound WebSocket request shapes
type joinRoomRequest struct {
	Room string `json:"room"`
}

type latestDataRequest struct {
	Model string `json:"model"`
}

type refreshDataRequest struct {
	Models []string `json:"models"`
}

type driverStatusRequest struct {
	DriverID string `json:"driverId"`
	Status   string `json:"status"`
	IsOnline bool   `json:"isOnline"`
}

type locationRequest struct {
	DriverID string  `json:"driverId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Speed    float64 `json:"speed"`
}

type earningsReportRequest struct {
	Params models.ReportFilter `json:"params"`
}

// HandleRequest dispatches one inbound client message. Malformed requests
// earn an error event on the requesting connection only.
func (h *CoreHandlers) HandleRequest(ctx context.Context, c *hub.Client, action string, raw []byte) {
	switch action {
	case "join-room":
		h.handleJoinRoom(c, raw)
	case "getLatestData":
		h.handleLatestData(ctx, c, raw)
	case "refresh-data":
		h.handleRefreshData(ctx, c, raw)
	case "updateDriverStatus":
		h.handleDriverStatus(ctx, c, raw)
	case "updateLocation":
		h.handleLocation(ctx, c, raw)
	case "requestEarningsReport":
		h.handleEarningsReport(ctx, c, raw)
	default:
		c.SendError("unknown action: " + action)
	}
}

func (h *CoreHandlers) handleJoinRoom(c *hub.Client, raw []byte) {
	var req joinRoomRequest
	if err := json.Unmarshal(raw, &req); err != nil || !feeds.ValidRoom(req.Room) {
		c.SendError("invalid room")
		return
	}
	h.hub.JoinRoom(c, req.Room)
}

func (h *CoreHandlers) handleLatestData(ctx context.Context, c *hub.Client, raw []byte) {
	var req latestDataRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Model == "" {
		c.SendError("invalid model")
		return
	}

	// answer instantly from cache when possible, then refresh in the
	// background so every subscriber converges on current data
	payload, cached := h.cache.Get(req.Model)
	if cached {
		c.SendEvent(feeds.UpdateEvent(req.Model), payload)
	}

	// cache-only feeds like dashboard-stats have no watcher; the cached
	// answer already satisfied the request
	if err := h.watchers.Refresh(ctx, req.Model); err != nil && !cached {
		c.SendError("unknown model: " + req.Model)
	}
}

func (h *CoreHandlers) handleRefreshData(ctx context.Context, c *hub.Client, raw []byte) {
	var req refreshDataRequest
	if err := json.Unmarshal(raw, &req); err != nil || len(req.Models) == 0 {
		c.SendError("no models requested")
		return
	}
	for _, model := range req.Models {
		if err := h.watchers.Refresh(ctx, model); err != nil {
			c.SendError("unknown model: " + model)
		}
	}
}

func (h *CoreHandlers) handleDriverStatus(ctx context.Context, c *hub.Client, raw []byte) {
	var req driverStatusRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.DriverID == "" || !validDriverStatus(req.Status) {
		c.SendError("invalid driver status update")
		return
	}

	if err := h.store.UpdateDriverStatus(ctx, req.DriverID, req.Status, req.IsOnline); err != nil {
		h.logger.WithError(err).WithField("driver_id", req.DriverID).Warn("Driver status update failed")
		c.SendError("driver status update failed")
		return
	}
	// change detection re-broadcasts the full listing from here
}

func (h *CoreHandlers) handleLocation(ctx context.Context, c *hub.Client, raw []byte) {
	var req locationRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.DriverID == "" {
		c.SendError("invalid location update")
		return
	}

	loc := models.Location{Lat: req.Lat, Lng: req.Lng}
	if err := h.store.UpdateDriverLocation(ctx, req.DriverID, loc, req.Speed); err != nil {
		h.logger.WithError(err).WithField("driver_id", req.DriverID).Warn("Driver location update failed")
		c.SendError("driver location update failed")
		return
	}

	// immediate low-latency event; the watcher follows with the full listing
	h.hub.Broadcast(feeds.EventLocationUpdate, map[string]interface{}{
		"driverId": req.DriverID,
		"location": loc,
		"speed":    req.Speed,
	}, feeds.RoomDrivers)
}

func (h *CoreHandlers) handleEarningsReport(ctx context.Context, c *hub.Client, raw []byte) {
	var req earningsReportRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.SendError("invalid report request")
		return
	}

	// a driver filter must name a real driver
	if req.Params.DriverID != "" {
		if _, err := h.store.GetDriver(ctx, req.Params.DriverID); err != nil {
			c.SendError("unknown driver: " + req.Params.DriverID)
			return
		}
	}

	c.SetReportFilter(req.Params)

	payload, err := h.reports.ComputeValidated(ctx, snapshot.FeedEarnings, req.Params)
	if err != nil {
		c.SendError("earnings report unavailable")
		return
	}
	c.SendEvent(feeds.EventEarningsReport, payload)
}

func validDriverStatus(status string) bool {
	switch status {
	case models.DriverIdle, models.DriverActive, models.DriverEmergency, models.DriverOffline:
		return true
	default:
		return false
	}
}
