// Package hub tracks every live dashboard connection, its room
// memberships and activity, and fans broadcast events out to rooms.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nayanladumor10/Latest-backend/internal/feeds"
	"github.com/nayanladumor10/Latest-backend/internal/metrics"
	"github.com/nayanladumor10/Latest-backend/internal/models"
	"github.com/nayanladumor10/Latest-backend/internal/snapshot"
	"github.com/nayanladumor10/Latest-backend/pkg/logging"
)

// Message is the outbound wire frame. Timestamp is stamped by the
// dispatcher on every send; when Data is a map it is merged there too,
// overwriting any caller-supplied timestamp.
type Message struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

type outbound struct {
	event string
	room  string // empty = every connection
	frame []byte
}

// Config holds hub tunables
type Config struct {
	SweepInterval time.Duration
	IdleTimeout   time.Duration
	SendBuffer    int
}

// DefaultConfig returns the reference sweep cadence
func DefaultConfig() Config {
	return Config{
		SweepInterval: 60 * time.Second,
		IdleTimeout:   5 * time.Minute,
		SendBuffer:    256,
	}
}

// RequestHandler processes inbound client messages
type RequestHandler interface {
	HandleRequest(ctx context.Context, c *Client, action string, raw []byte)
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	cfg        Config
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	done       chan struct{}
	cache      *snapshot.Cache
	handler    RequestHandler
	logger     logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a hub over the given snapshot cache
func NewHub(cfg Config, cache *snapshot.Cache, logger logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		cfg:        cfg,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 256),
		done:       make(chan struct{}),
		cache:      cache,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// SetRequestHandler wires the inbound message handler. Must be called
// before the first connection is served.
func (h *Hub) SetRequestHandler(handler RequestHandler) {
	h.handler = handler
}

// Run drives registration, broadcast fan-out and the idle sweep until the
// context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	// signals pumps that nobody services register/unregister anymore
	defer close(h.done)

	sweeper := time.NewTicker(h.cfg.SweepInterval)
	defer sweeper.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.WithFields(logging.Fields{
				"client_id":    client.ID,
				"client_count": count,
			}).Info("Client connected")

		case client := <-h.unregister:
			if h.drop(client) {
				h.logger.WithFields(logging.Fields{
					"client_id": client.ID,
				}).Info("Client disconnected")
			}

		case msg := <-h.broadcast:
			h.fanOut(msg)

		case <-sweeper.C:
			h.evictIdle()
		}
	}
}

// Broadcast sends an event to every member of the room, or to every
// connection when room is empty. Delivery is fire-and-forget: the snapshot
// cache guarantees catch-up on the next join.
func (h *Hub) Broadcast(event string, payload interface{}, room string) {
	frame, err := h.encode(event, payload)
	if err != nil {
		h.logger.WithError(err).WithField("event", event).Error("Failed to marshal broadcast message")
		return
	}

	select {
	case h.broadcast <- outbound{event: event, room: room, frame: frame}:
	default:
		h.logger.WithField("event", event).Warn("Broadcast channel full, dropping message")
	}
}

func (h *Hub) fanOut(msg outbound) {
	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if msg.room != "" && !client.InRoom(msg.room) {
			continue
		}
		recipients = append(recipients, client)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range recipients {
		if client.trySend(msg.frame) {
			delivered++
			continue
		}
		// full send buffer means a dead or hopelessly slow peer
		h.drop(client)
		h.logger.WithField("client_id", client.ID).Warn("Dropping client with full send buffer")
		if h.metrics != nil {
			h.metrics.EventsDropped.WithLabelValues(msg.event).Inc()
		}
	}
	if h.metrics != nil && delivered > 0 {
		h.metrics.HubMessages.WithLabelValues(msg.event, "out").Add(float64(delivered))
	}
}

// JoinRoom adds the client to the room (idempotent) and immediately
// replays the room's cached feed snapshots to that one client.
func (h *Hub) JoinRoom(c *Client, room string) {
	c.joinRoom(room)

	c.SendEvent(feeds.EventJoinedRoom, map[string]interface{}{"room": room})

	for _, feedKind := range feeds.RoomFeeds(room) {
		payload, ok := h.cache.Get(feedKind)
		if !ok {
			continue
		}
		c.SendEvent(feeds.UpdateEvent(feedKind), payload)
	}

	if h.metrics != nil {
		h.metrics.HubConnections.WithLabelValues(room).Inc()
	}
	h.logger.WithFields(logging.Fields{
		"client_id": c.ID,
		"room":      room,
	}).Debug("Client joined room")
}

// ConnectionInfo is a read-only registry entry
type ConnectionInfo struct {
	ID           string    `json:"id"`
	Rooms        []string  `json:"rooms"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Connections returns a snapshot of the registry
func (h *Hub) Connections() []ConnectionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(h.clients))
	for client := range h.clients {
		infos = append(infos, client.Info())
	}
	return infos
}

// FirstReportFilter scans connected clients for the first non-empty report
// filter, used to pick a representative filter set for periodic reports.
func (h *Hub) FirstReportFilter() models.ReportFilter {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if f := client.ReportFilter(); !f.IsZero() {
			return f
		}
	}
	return models.ReportFilter{}
}

// ClientCount returns the number of live connections
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) evictIdle() {
	cutoff := h.now().Add(-h.cfg.IdleTimeout)

	h.mu.RLock()
	idle := make([]*Client, 0)
	for client := range h.clients {
		if client.LastActivity().Before(cutoff) {
			idle = append(idle, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range idle {
		h.logger.WithFields(logging.Fields{
			"client_id": client.ID,
			"idle":      h.now().Sub(client.LastActivity()).String(),
		}).Info("Evicting idle client")
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	client.close()
	return true
}

func (h *Hub) encode(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{
		Event:     event,
		Data:      stampPayload(payload, h.now()),
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// stampPayload shallow-merges a timestamp into map payloads. Caller fields
// win on conflict except timestamp itself, which is always overwritten.
func stampPayload(payload interface{}, now time.Time) interface{} {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return payload
	}
	stamped := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		stamped[k] = v
	}
	stamped["timestamp"] = now.UTC().Format(time.RFC3339)
	return stamped
}

// ServeWS upgrades an HTTP request and registers the connection
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
		return
	}

	go client.writePump()
	// the request context dies when this handler returns; inbound requests
	// outlive it
	go client.readPump(context.Background())
}
