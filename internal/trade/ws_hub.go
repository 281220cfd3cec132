package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 32
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type  string       `json:"type"`
	Order *model.Order `json:"order,omitempty"`
}

// WSHub manages WebSocket connections and delivers each account's
// executed orders to that account's connections only.
type WSHub struct {
	clients    map[string]map[*wsClient]bool // accountID → connections
	broadcast  chan envelope
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mu         sync.RWMutex
}

type wsClient struct {
	accountID string
	conn      *websocket.Conn
	send      chan []byte
}

type envelope struct {
	accountID string
	data      []byte
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[string]map[*wsClient]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop and returns when ctx is done.
// Must be called in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, conns := range h.clients {
				for c := range conns {
					close(c.send)
					metrics.WebSocketClients.Dec()
				}
			}
			h.clients = make(map[string]map[*wsClient]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.accountID] == nil {
				h.clients[c.accountID] = make(map[*wsClient]bool)
			}
			h.clients[c.accountID][c] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "account", c.accountID)

		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients[env.accountID] {
				select {
				case c.send <- env.data:
				default:
					// Slow reader: drop the connection rather than block trades.
					h.remove(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops c from the hub. Callers hold h.mu.
func (h *WSHub) remove(c *wsClient) {
	conns, ok := h.clients[c.accountID]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.accountID)
	}
	close(c.send)
	metrics.WebSocketClients.Dec()
}

// Clients returns the number of connections open for accountID.
func (h *WSHub) Clients(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

// Publish sends a message to every connection of accountID.
func (h *WSHub) Publish(accountID string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- envelope{accountID: accountID, data: data}:
	default:
		// Drop if buffer full to avoid blocking trade execution.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Tokens, not cookies, authenticate the socket.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/trading/ws.
// It must sit behind the auth middleware.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountID(r.Context())
	if !ok {
		writeError(w, "token is missing", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{accountID: accountID, conn: conn, send: make(chan []byte, wsSendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
		}()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// writePump is the connection's only writer. It exits when the hub closes
// c.send or a write fails.
func (c *wsClient) writePump() {
	// Ping ticker to keep connection alive through proxies.
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
