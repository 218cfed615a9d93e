// Package opctl exposes the bill validator driver over an admin HTTP
// API: device status, bill-table queries, enable/security mutation,
// escrow decisions, and a websocket feed of device events.
package opctl

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrSendBufferFull = errors.New("client send buffer full")
)

// EventType names the kinds of events broadcast over the websocket
// feed.
const (
	EventDeviceState     = "device_state"
	EventCassetteFull    = "cassette_full"
	EventCassetteRemoved = "cassette_removed"
	EventEscrow          = "escrow"
	EventCashAccepted    = "cash_accepted"
	EventCashReturned    = "cash_returned"
)

// Event is one message broadcast to every connected websocket
// client.
type Event struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Hub fans device events out to every connected admin websocket
// client.
type Hub struct {
	clients   map[string]*Client
	clientsMu sync.RWMutex

	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client

	logger *zap.Logger
}

// Client is one connected admin websocket session.
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c.ID] = c
			h.clientsMu.Unlock()
			h.logger.Info("admin websocket client connected", zap.String("client_id", c.ID))

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c.ID]; ok {
				delete(h.clients, c.ID)
				close(c.Send)
			}
			h.clientsMu.Unlock()
			h.logger.Info("admin websocket client disconnected", zap.String("client_id", c.ID))

		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) deliver(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.Send <- data:
		default:
			h.logger.Warn("client send buffer full, dropping event", zap.String("client_id", c.ID))
		}
	}
}

// Broadcast queues event for delivery to every connected client.
// Non-blocking: a full broadcast channel drops the event rather than
// stalling the caller (the device event loop).
func (h *Hub) Broadcast(eventType string, data interface{}, now time.Time) {
	event := &Event{Type: eventType, Timestamp: now.Unix(), Data: data}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", zap.String("type", eventType))
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
		// The admin feed is read-only from the client's perspective;
		// any inbound frame just resets the read deadline above.
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
