package hub

import (
	"context"
	"net/http"
	"sync"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub tracks live connections per user and pushes alerts to them
type Hub struct {
	clients   map[string]map[*Client]bool
	clientsMu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	doneOnce   sync.Once

	totalConnections int64
	totalPushed      int64
	metricsMu        sync.Mutex

	log zerolog.Logger
}

// New creates a hub. Call Run before registering clients.
func New() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.WithComponent("hub"),
	}
}

// Run processes registrations until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer h.doneOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.registerClient(c)
		case c := <-h.unregister:
			h.unregisterClient(c)
		}
	}
}

// Register adds a client. It is a no-op once the hub has stopped.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes a client. It is a no-op once the hub has stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// SendToUser pushes msg to every connection of userID and returns how many accepted it.
// Connections with a full buffer are dropped.
func (h *Hub) SendToUser(userID string, msg ServerMessage) int {
	h.clientsMu.RLock()
	var slow []*Client
	sent := 0
	for c := range h.clients[userID] {
		if c.TrySend(msg) {
			sent++
		} else {
			slow = append(slow, c)
		}
	}
	h.clientsMu.RUnlock()

	for _, c := range slow {
		h.log.Warn().Str("client_id", c.ID).Str("user_id", userID).Msg("client buffer full, disconnecting")
		go h.Unregister(c)
	}

	if sent > 0 {
		h.metricsMu.Lock()
		h.totalPushed++
		h.metricsMu.Unlock()
	}
	return sent
}

// ClientCount returns the number of live connections
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// GetMetrics returns hub counters
func (h *Hub) GetMetrics() map[string]interface{} {
	active := h.ClientCount()

	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()

	return map[string]interface{}{
		"active_clients":    active,
		"total_connections": h.totalConnections,
		"total_pushed":      h.totalPushed,
	}
}

func (h *Hub) registerClient(c *Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]bool)
		h.clients[c.UserID] = set
	}
	set[c] = true

	h.metricsMu.Lock()
	h.totalConnections++
	h.metricsMu.Unlock()

	h.log.Debug().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client connected")
}

func (h *Hub) unregisterClient(c *Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	set, ok := h.clients[c.UserID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	close(c.Send)

	h.log.Debug().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client disconnected")
}

func (h *Hub) shutdown() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for userID, set := range h.clients {
		for c := range set {
			close(c.Send)
		}
		delete(h.clients, userID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and attaches the connection to the user in ?user_id=.
// The pumps run on ctx rather than the request context.
func (h *Hub) ServeWS(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		c := NewClient(uuid.New().String(), userID, conn, h)
		h.Register(c)

		go c.WritePump(ctx)
		go c.ReadPump(ctx)
	}
}
