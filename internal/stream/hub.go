// Package stream pushes committed operations to WebSocket clients as they
// become durable.
package stream

import (
	"MarginLedger/internal/ingestion"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/persistence"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	clientBuffer = 64
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Hub fans durable operations out to subscribed clients. A client that falls
// behind its buffer is disconnected rather than slowing the others.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*client]struct{}
	broadcast chan []persistence.OperationRow
	upgrader  websocket.Upgrader
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	// account filter; empty means every operation
	account string
}

func NewHub(buffer int, metrics *observability.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[*client]struct{}),
		broadcast: make(chan []persistence.OperationRow, buffer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Flushed implements persistence.FlushSink. It never blocks.
func (h *Hub) Flushed(rows []persistence.OperationRow) {
	select {
	case h.broadcast <- rows:
	default:
		if h.metrics != nil {
			h.metrics.StreamDrops.Inc()
		}
	}
}

func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rows := <-h.broadcast:
			h.fanOut(rows)
		}
	}
}

func (h *Hub) fanOut(rows []persistence.OperationRow) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	for _, r := range rows {
		msg, err := json.Marshal(ingestion.NewPublishableOperation(r))
		if err != nil {
			h.logger.Error().Err(err).Int64("seq", r.Sequence).Msg("encode stream message")
			continue
		}
		account := ""
		if r.AccountID != nil {
			account = r.AccountID.String()
		}
		for c := range h.clients {
			if c.account != "" && c.account != account {
				continue
			}
			select {
			case c.send <- msg:
			default:
				// slow consumer; the write loop closes the connection
				c.conn.Close()
				if h.metrics != nil {
					h.metrics.StreamSlowClients.Inc()
				}
			}
		}
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request. ?account=<uuid> limits the stream to
// operations on one account.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer), account: r.URL.Query().Get("account")}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("total", total).Msg("ws client connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop only tracks liveness; clients never send data.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only writer on the connection.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
