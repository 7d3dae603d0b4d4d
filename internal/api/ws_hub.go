// WebSocket hub for real-time cart broadcasting.

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gomarketplace/cart-engine/internal/cart"
	"github.com/gomarketplace/cart-engine/internal/metrics"
	"github.com/gomarketplace/cart-engine/internal/model"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type  string           `json:"type"`
	Items []ItemResponse `json:"items"`
	Units int            `json:"units"`
}

func cartMessage(c model.Cart) WSMessage {
	resp := newCartResponse(c)
	return WSMessage{Type: "cart_updated", Items: resp.Items, Units: resp.Units}
}

// DefaultWriteTimeout bounds a single write to a WebSocket client. A client
// that does not drain its socket within it is disconnected.
const DefaultWriteTimeout = 10 * time.Second

// WSHub manages WebSocket connections and broadcasts the cart to all
// connected clients whenever it changes.
type WSHub struct {
	clients      map[*websocket.Conn]string // conn → client id
	broadcast    chan []byte                // holds only the newest cart
	writeTimeout time.Duration
	register   chan registration
	unregister chan *websocket.Conn
	done       chan struct{} // closed when Run returns
	latest     []byte        // last broadcast, owned by Run
	mu         sync.Mutex
}

// registration carries a new connection and the cart it should start
// from if nothing has been broadcast yet.
type registration struct {
	conn    *websocket.Conn
	initial []byte
}

// HubOption configures a WSHub.
type HubOption func(*WSHub)

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *WSHub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(opts ...HubOption) *WSHub {
	h := &WSHub{
		clients:      make(map[*websocket.Conn]string),
		broadcast:    make(chan []byte, 1),
		writeTimeout: DefaultWriteTimeout,
		register:     make(chan registration),
		unregister:   make(chan *websocket.Conn),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// write sends msg to conn, giving up after the hub's write timeout.
func (h *WSHub) write(conn *websocket.Conn, msg []byte) error {
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// Run starts the hub's main event loop until ctx is done. Must be called
// in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case reg := <-h.register:
			// The first message is written here so it is ordered with
			// every broadcast that follows.
			first := h.latest
			if first == nil {
				first = reg.initial
			}
			if err := h.write(reg.conn, first); err != nil {
				reg.conn.Close()
				continue
			}
			h.mu.Lock()
			id := uuid.NewString()
			h.clients[reg.conn] = id
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "client", id, "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if id, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				slog.Info("ws client disconnected", "client", id)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.latest = msg
			h.mu.Lock()
			for conn := range h.clients {
				if err := h.write(conn, msg); err != nil {
					slog.Warn("ws client dropped", "client", h.clients[conn], "err", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
		}
	}
}

// Broadcast queues msg for all connected clients without blocking. Only
// the newest message is kept: one still waiting when another arrives is
// replaced, so clients always end on the latest cart.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws marshal failed", "err", err)
		return
	}
	for {
		select {
		case h.broadcast <- data:
			return
		default:
		}
		// Replace the stale message.
		select {
		case <-h.broadcast:
		default:
		}
	}
}

// Follow broadcasts every cart snapshot published by st until the
// subscription ends (store closed) or ctx is done.
func (h *WSHub) Follow(ctx context.Context, st *cart.Store) {
	updates, cancel := st.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-updates:
			if !ok {
				return
			}
			h.Broadcast(cartMessage(c))
		}
	}
}

// Clients reports the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. The
// current cart is the first message every client receives.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	st := cart.FromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	initial, err := json.Marshal(cartMessage(st.Products()))
	if err != nil {
		conn.Close()
		return
	}

	select {
	case h.register <- registration{conn: conn, initial: initial}:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies. WriteControl
	// is safe alongside the hub's writes.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.Lock()
			_, ok := h.clients[conn]
			h.mu.Unlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}()
}
