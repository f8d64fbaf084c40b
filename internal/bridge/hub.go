// Package bridge carries messages between the foreground execution
// contexts (storefront pages) and the background sync agent over a
// loopback WebSocket. The agent hosts the hub; each page dials in as a
// client. Pages push configuration and wake requests up to the agent,
// the agent broadcasts price updates and drain results down to every
// connected page.
package bridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bfgold/storefront-sync/internal/logging"
	"github.com/bfgold/storefront-sync/internal/models"
	"github.com/bfgold/storefront-sync/internal/uuid"
)

// Message types exchanged over the bridge.
const (
	// MsgConfigUpdate flows page -> agent: the remote store credentials
	// the agent needs for autonomous replay.
	MsgConfigUpdate = "config.update"

	// MsgReplayRequested flows page -> agent: drain the pending queue now.
	MsgReplayRequested = "replay.requested"

	// MsgPricesUpdated flows agent -> pages after a background price
	// refresh changed tracked products.
	MsgPricesUpdated = "prices.updated"

	// MsgQueueDrained flows agent -> pages after a background replay pass.
	MsgQueueDrained = "queue.drained"
)

// Envelope wraps every bridge message. Data is the JSON encoding of the
// type-specific payload.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// ConfigUpdate is the payload of MsgConfigUpdate.
type ConfigUpdate struct {
	BaseURL     string `json:"url"`
	APIKey      string `json:"anonKey"`
	AccessToken string `json:"accessToken,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

// PricesUpdated is the payload of MsgPricesUpdated.
type PricesUpdated struct {
	Products []models.PriceUpdate `json:"products"`
}

// QueueDrained is the payload of MsgQueueDrained.
type QueueDrained struct {
	Remaining int `json:"remaining"`
}

// InboundHandler receives messages sent by connected pages.
type InboundHandler func(msgType string, data json.RawMessage)

// The bridge only ever binds loopback, so cross-origin checks add nothing.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub maintains the set of connected pages and fans broadcasts out to
// all of them. Hosted by the background agent.
type Hub struct {
	clients    map[string]*hubClient
	broadcast  chan []byte
	register   chan *hubClient
	unregister chan *hubClient
	handler    InboundHandler
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub creates a Hub and starts its dispatch loop. handler may be nil
// when the host has no interest in inbound messages.
func NewHub(handler InboundHandler) *Hub {
	h := &Hub{
		clients:    make(map[string]*hubClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		handler:    handler,
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("Bridge client connected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("Bridge client disconnected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow page; drop the connection rather than block the hub.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a typed message to every connected page.
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error("Failed to encode bridge payload", err,
			map[string]interface{}{"type": msgType})
		return
	}

	envelope := Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to encode bridge envelope", err,
			map[string]interface{}{"type": msgType})
		return
	}

	select {
	case h.broadcast <- raw:
	case <-h.done:
	}
}

// BroadcastPricesUpdated pushes refreshed prices to every page.
func (h *Hub) BroadcastPricesUpdated(updates []models.PriceUpdate) {
	h.Broadcast(MsgPricesUpdated, PricesUpdated{Products: updates})
}

// BroadcastQueueDrained reports the outcome of a background replay pass.
func (h *Hub) BroadcastQueueDrained(remaining int) {
	h.Broadcast(MsgQueueDrained, QueueDrained{Remaining: remaining})
}

// ClientCount returns the number of connected pages.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts the hub down and disconnects every page. Safe to call
// more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Handler returns the http handler that upgrades page connections.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("Bridge upgrade failed",
				map[string]interface{}{"reason": err.Error()})
			return
		}

		client := &hubClient{
			id:   uuid.New(),
			conn: conn,
			send: make(chan []byte, 256),
			hub:  h,
		}

		select {
		case h.register <- client:
		case <-h.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (c *hubClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("Bridge read error",
					map[string]interface{}{"client_id": c.id, "reason": err.Error()})
			}
			break
		}

		var envelope Envelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			logging.Debug("Discarding malformed bridge message",
				map[string]interface{}{"client_id": c.id, "reason": err.Error()})
			continue
		}

		if c.hub.handler != nil {
			c.hub.handler(envelope.Type, envelope.Data)
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
