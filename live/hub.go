// Package live streams every inbound transport message to connected
// dashboard clients. No backpressure: a client that cannot keep up is
// dropped so the rest keep receiving.
package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cyclehub/rental-backend/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var clientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "live_clients",
	Help: "Currently connected live-view clients",
})

// RegisterMetrics attaches the hub's gauge to the process registry.
func RegisterMetrics(reg *prometheus.Registry) {
	reg.MustRegister(clientsGauge)
}

// Frame is what a live-view client receives: the raw transport message
// wrapped with its topic.
type Frame struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger,
	}
}

// Run forwards bus messages to every connected client until the
// subscription closes or ctx is cancelled. Zero clients is a no-op.
func (h *Hub) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.C():
			if !ok {
				return
			}
			h.Broadcast(m.Topic, m.Payload)
		}
	}
}

// Broadcast wraps one transport message and fans it out. A full send buffer
// counts as a dead client and removes it; delivery to the others proceeds.
func (h *Hub) Broadcast(topic string, payload []byte) {
	frame, err := json.Marshal(Frame{Type: "mqtt", Topic: topic, Data: payload})
	if err != nil {
		h.logger.Error("failed to marshal live frame", "topic", topic, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Info("dropping unresponsive live client", "client_id", id)
			h.removeLocked(c)
		}
	}
}

// ClientCount reports the current broadcast set size.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve owns conn for its lifetime: registers the client, pumps broadcast
// frames out, and sinks inbound frames (logged, never acted upon).
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	clientsGauge.Set(float64(n))
	h.logger.Info("live client connected", "client_id", c.id, "clients", n)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	clientsGauge.Set(float64(len(h.clients)))
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("live client read error", "client_id", c.id, "error", err)
			}
			return
		}
		h.logger.Debug("live client frame ignored", "client_id", c.id, "size", len(msg))
	}
}
