package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/faceads/internal/observability"
	"github.com/your-org/faceads/pkg/dto"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Client is one connected display page.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans visitor events out to connected pages. All client bookkeeping
// happens on the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	upgrader   websocket.Upgrader
	count      atomic.Int64
}

// NewHub accepts upgrades from the given origins; an empty list accepts any.
func NewHub(allowedOrigins []string) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// Run starts the hub event loop until ctx is done. Call this in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			h.drop(client)

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow reader; its page still polls.
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.count.Store(int64(len(h.clients)))
	close(client.send)
	observability.WSConnections.Dec()
	slog.Debug("ws client disconnected", "clients", len(h.clients))
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Broadcast queues ev for every connected client. It never blocks; events
// are dropped when the queue is full.
func (h *Hub) Broadcast(ev dto.WSEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("ws broadcast queue full, dropping event")
	}
}

// HandleWS upgrades the request and registers the client.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 16),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump only detects disconnects; pages never send anything.
func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
