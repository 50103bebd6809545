package sink

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wave-collector/pkg/acquisition"
	"github.com/wave-collector/pkg/metrics"
)

const (
	clientQueue  = 32
	writeTimeout = 5 * time.Second
	readLimit    = 512
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub upgrades HTTP requests to WebSocket connections and broadcasts every window
// it receives to all of them. A client that cannot keep up loses windows instead
// of slowing the others down.
type Hub struct {
	stream   string
	log      *zap.Logger
	metrics  *metrics.SinkMetrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient
	closed  bool
}

func NewHub(stream string, log *zap.Logger, m *metrics.SinkMetrics) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		stream:  stream,
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// read-only stream, any origin may watch
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*wsClient),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the connection until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		h.log.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientQueue)}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.log.Info("websocket client connected", zap.String("remote", r.RemoteAddr), zap.Int("clients", h.Clients()))

	go h.writeLoop(c)
	h.readLoop(c)

	h.remove(c)
	h.log.Info("websocket client disconnected", zap.String("remote", r.RemoteAddr), zap.Int("clients", h.Clients()))
}

// Handle broadcasts one window. It is meant to be subscribed to the acquisition core.
func (h *Hub) Handle(w acquisition.Window) {
	data, err := Encode(h.stream, w)
	if err != nil {
		h.log.Error("encode window failed", zap.Uint64("seq", w.Seq), zap.Error(err))
		h.failed()
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("websocket client too slow, window dropped",
				zap.String("remote", c.conn.RemoteAddr().String()), zap.Uint64("seq", w.Seq))
			h.failed()
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn, c := range h.clients {
		delete(h.clients, conn)
		c.close()
	}
	h.setClients(0)
	return nil
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.conn] = c
	h.setClients(len(h.clients))
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c.conn)
	h.setClients(len(h.clients))
	h.mu.Unlock()
	c.close()
}

// readLoop discards client messages; it returns once the connection fails.
func (h *Hub) readLoop(c *wsClient) {
	c.conn.SetReadLimit(readLimit)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("websocket write failed", zap.String("remote", c.conn.RemoteAddr().String()), zap.Error(err))
			h.failed()
			return
		}
		if h.metrics != nil {
			h.metrics.Delivered.Inc()
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (h *Hub) failed() {
	if h.metrics != nil {
		h.metrics.Failures.Inc()
	}
}

func (h *Hub) setClients(n int) {
	if h.metrics != nil {
		h.metrics.Clients.Set(float64(n))
	}
}
