package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nifty-paper-terminal/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// Message is one websocket frame.
type Message struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

// LiveHub pushes the live terminal state to every connected browser.
type LiveHub struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	view     func() LiveView
	interval time.Duration
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*liveClient
}

type liveClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *LiveHub
}

// NewLiveHub creates a hub that samples view every interval.
func NewLiveHub(logger *zap.Logger, m *metrics.Metrics, view func() LiveView, interval time.Duration) *LiveHub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &LiveHub{
		logger:   logger.Named("live"),
		metrics:  m,
		view:     view,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*liveClient),
	}
}

// Serve upgrades the request and registers the client. The first snapshot
// is sent immediately.
func (h *LiveHub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &liveClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}
	if data, err := h.frame(); err == nil {
		client.send <- data
	}
	h.register(client)

	go client.writePump()
	go client.readPump()
}

func (h *LiveHub) frame() ([]byte, error) {
	return json.Marshal(Message{Type: "snapshot", Data: h.view(), Time: time.Now()})
}

func (h *LiveHub) register(c *liveClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.metrics.LiveClients(1)
	h.logger.Debug("Live client connected", zap.String("client", c.id))
}

func (h *LiveHub) unregister(c *liveClient) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.LiveClients(-1)
		h.logger.Debug("Live client disconnected", zap.String("client", c.id))
	}
}

// Clients is the number of connected browsers.
func (h *LiveHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run broadcasts a snapshot every interval until ctx ends.
func (h *LiveHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.Broadcast()
		}
	}
}

// Broadcast sends the current snapshot to every client. Clients that
// cannot keep up are dropped. The read lock is held while sending so
// unregister cannot close a send channel underneath it.
func (h *LiveHub) Broadcast() {
	if h.Clients() == 0 {
		return
	}
	data, err := h.frame()
	if err != nil {
		h.logger.Error("Failed to encode snapshot", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Live client too slow, closing", zap.String("client", c.id))
			c.conn.Close()
		}
	}
}

func (h *LiveHub) closeAll() {
	h.mu.RLock()
	clients := make([]*liveClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump only watches for the browser going away.
func (c *liveClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Live client read error", zap.Error(err))
			}
			return
		}
	}
}
