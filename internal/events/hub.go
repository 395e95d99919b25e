package events

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/metrics"
)

// sendBuffer bounds per-client queues; slow consumers are dropped rather
// than allowed to stall the broadcaster.
const sendBuffer = 64

// Hub broadcasts event payloads to connected WebSocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	log     *logrus.Entry
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		log:     log.WithField("component", "ws_hub"),
	}
}

// Register adopts a connection: the hub owns writes and closes the
// connection when the client falls behind or disconnects.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
	h.log.WithField("clients", n).Debug("websocket client connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Broadcast queues the payload for every connected client.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			metrics.EventsDropped.WithLabelValues("websocket").Inc()
			h.dropLocked(c)
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) writeLoop(c *client) {
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.Close()
}

// readLoop drains (and discards) client frames so pings and close frames
// are processed.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}
