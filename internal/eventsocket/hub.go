// Package eventsocket streams dispatch activity to connected dashboard
// clients over WebSocket: structured retry-log entries and terminal-state
// (done/dlq) transitions (SPEC_FULL.md §11).
//
// Grounded on the teacher's internal/websocket/hub.go — the same
// register/unregister/broadcast channel hub, per-client send buffer with
// drop-on-full, and ping/pong keepalive, with the broadcast payload
// swapped from DeliveryEvent to Notification.
package eventsocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Priya8975/eventbus/internal/dispatch"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard dev servers run on a different origin/port
	},
}

// Notification is one dispatch event pushed to connected clients: either a
// retry-log entry or a terminal-state transition.
type Notification struct {
	Kind      string                 `json:"kind"` // "retry" or "terminal"
	Timestamp time.Time              `json:"timestamp"`
	Retry     *dispatch.RetryLogEntry `json:"retry,omitempty"`
	Terminal  *TerminalEvent          `json:"terminal,omitempty"`
}

// TerminalEvent reports an event reaching done or dlq.
type TerminalEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Status    string `json:"status"`
}

// Hub manages WebSocket connections and broadcasts notifications to all of
// them.
type Hub struct {
	clients    map[*client]struct{}
	mu         sync.RWMutex
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	now        func() time.Time
	logger     *slog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. Call Run as a goroutine before serving traffic.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		now:        time.Now,
		logger:     logger,
	}
}

// Run drives the hub's event loop until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, c)
					close(c.send)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// RetrySink adapts the hub into a dispatch.RetryLogSink, so the dispatcher
// can push retry-log entries straight to connected dashboards.
func (h *Hub) RetrySink() dispatch.RetryLogSink {
	return func(entry dispatch.RetryLogEntry) {
		h.broadcastNotification(Notification{Kind: "retry", Timestamp: h.now(), Retry: &entry})
	}
}

// NotifyTerminal broadcasts a terminal-state transition.
func (h *Hub) NotifyTerminal(eventID, eventType, status string) {
	h.broadcastNotification(Notification{
		Kind:      "terminal",
		Timestamp: h.now(),
		Terminal:  &TerminalEvent{EventID: eventID, EventType: eventType, Status: status},
	})
}

func (h *Hub) broadcastNotification(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("failed to marshal websocket notification", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("websocket broadcast channel full, dropping notification")
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 256)}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
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

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
