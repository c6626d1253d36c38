package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientSendBuffer = 64
	hubWriteTimeout  = 10 * time.Second
	hubPongWait      = 60 * time.Second
	hubPingInterval  = 30 * time.Second
)

// subscription is the frame a client sends to change its topics.
type subscription struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Topic  string `json:"topic"`
}

type ack struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// Hub is a websocket endpoint clients connect to for live bot events. A
// client receives every event whose topic starts with one of its subscriptions.
// Topics can be given as repeated ?topic= query parameters or subscribed later.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "event_hub"),
		clients: make(map[*hubClient]struct{}),
	}
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]struct{}

	closeOnce sync.Once
}

func (c *hubClient) wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for prefix := range c.topics {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

func (c *hubClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade event client", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &hubClient{
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		topics: make(map[string]struct{}),
	}
	for _, topic := range r.URL.Query()["topic"] {
		if topic != "" {
			c.topics[topic] = struct{}{}
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Event client connected", "remote", r.RemoteAddr, "topics", len(c.topics))

	go h.writeLoop(c)
	h.readLoop(c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("Event client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) readLoop(c *hubClient) {
	_ = c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})

	for {
		var sub subscription
		if err := c.conn.ReadJSON(&sub); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Event client read error", "error", err)
			}
			return
		}
		if sub.Topic == "" {
			continue
		}

		c.mu.Lock()
		switch sub.Action {
		case "subscribe":
			c.topics[sub.Topic] = struct{}{}
		case "unsubscribe":
			delete(c.topics, sub.Topic)
		}
		c.mu.Unlock()

		if data, err := json.Marshal(ack{Type: sub.Action + "d", Topic: sub.Topic}); err == nil {
			h.enqueue(c, data)
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(hubPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the message if the client is not keeping up.
func (h *Hub) enqueue(c *hubClient, data []byte) {
	defer func() {
		// The client may have been closed concurrently.
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
		h.logger.Warn("Event client send buffer full, dropping event")
	}
}

// Publish implements Sink.
func (h *Hub) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.wants(event.Topic) {
			h.enqueue(c, data)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}
