package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nayanladumor10/Latest-backend/internal/feeds"
	"github.com/nayanladumor10/Latest-backend/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Client represents one WebSocket connection and its room memberships
type Client struct {
	ID          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	connectedAt time.Time

	mu           sync.RWMutex
	rooms        map[string]bool
	lastActivity time.Time
	reportFilter models.ReportFilter
	closed       bool

	closeOnce sync.Once
}

// InboundMessage is the envelope of every client request
type InboundMessage struct {
	Action string `json:"action"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	now := h.now()
	return &Client{
		ID:           uuid.New().String(),
		hub:          h,
		conn:         conn,
		send:         make(chan []byte, h.cfg.SendBuffer),
		connectedAt:  now,
		rooms:        make(map[string]bool),
		lastActivity: now,
	}
}

// InRoom reports room membership
func (c *Client) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[room]
}

func (c *Client) joinRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = true
	c.mu.Unlock()
}

// Touch records peer activity for idle eviction
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastActivity = c.hub.now()
	c.mu.Unlock()
}

// LastActivity returns the last time the peer sent anything
func (c *Client) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// SetReportFilter remembers the report parameters this client asked for
func (c *Client) SetReportFilter(f models.ReportFilter) {
	c.mu.Lock()
	c.reportFilter = f
	c.mu.Unlock()
}

// ReportFilter returns the client's last requested report parameters
func (c *Client) ReportFilter() models.ReportFilter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reportFilter
}

// Info returns a registry snapshot entry for this client
func (c *Client) Info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return ConnectionInfo{
		ID:           c.ID,
		Rooms:        rooms,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastActivity,
	}
}

// SendEvent sends one event to this client only, stamped like a broadcast
func (c *Client) SendEvent(event string, payload interface{}) {
	frame, err := c.hub.encode(event, payload)
	if err != nil {
		c.hub.logger.WithError(err).WithField("event", event).Error("Failed to marshal client message")
		return
	}
	c.trySend(frame)
}

// SendError reports a malformed or failed request back to this client only
func (c *Client) SendError(message string) {
	c.SendEvent(feeds.EventError, map[string]interface{}{"message": message})
}

// trySend enqueues a frame unless the client is closed or its buffer is
// full. The closed flag is checked under the same lock close() takes, so a
// frame is never sent on a closed channel.
func (c *Client) trySend(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
		_ = c.conn.Close()
	})
}

// readPump pumps inbound messages from the connection to the request handler
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		// after Run exits nobody drains unregister; done unblocks the pump
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).WithField("client_id", c.ID).Error("WebSocket connection error")
			}
			break
		}

		c.Touch()
		if c.hub.metrics != nil {
			c.hub.metrics.HubMessages.WithLabelValues("request", "in").Inc()
		}

		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Action == "" {
			c.SendError("malformed request")
			continue
		}

		if c.hub.handler != nil {
			c.hub.handler.HandleRequest(ctx, c, msg.Action, raw)
		}
	}
}

// writePump pumps frames from the hub to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
