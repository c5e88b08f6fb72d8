package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512

	sendBufferSize = 64
)

// Client is one socket connection belonging to a user
type Client struct {
	ID     string
	UserID string
	Send   chan ServerMessage

	conn        *websocket.Conn
	hub         *Hub
	connectedAt time.Time

	mu            sync.Mutex
	messagesSent  int64
	lastMessageAt time.Time
}

// NewClient creates a client for conn
func NewClient(id, userID string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:          id,
		UserID:      userID,
		Send:        make(chan ServerMessage, sendBufferSize),
		conn:        conn,
		hub:         hub,
		connectedAt: time.Now(),
	}
}

// ReadPump reads until the connection fails, answering heartbeats
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}

		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Logger.Debug().Err(err).Str("client_id", c.ID).Msg("unexpected websocket close")
			}
			return
		}

		switch msg.Type {
		case MessageTypeHeartbeat:
			c.TrySend(ServerMessage{Type: MessageTypeHeartbeat, Payload: c.Stats(), Timestamp: time.Now()})
		default:
			c.TrySend(ServerMessage{
				Type:      MessageTypeError,
				Payload:   ErrorMessage{Code: "unknown_message_type", Message: fmt.Sprintf("unknown message type: %s", msg.Type)},
				Timestamp: time.Now(),
			})
		}
	}
}

// WritePump writes queued messages and keeps the connection alive with pings
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logger.Logger.Debug().Err(err).Str("client_id", c.ID).Msg("websocket write failed")
				return
			}
			c.markSent()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a message without blocking.
// Returns false when the client's buffer is full.
func (c *Client) TrySend(msg ServerMessage) bool {
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// Stats returns connection statistics
func (c *Client) Stats() ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ConnectionStats{
		ClientID:      c.ID,
		UserID:        c.UserID,
		ConnectedAt:   c.connectedAt,
		MessagesSent:  c.messagesSent,
		LastMessageAt: c.lastMessageAt,
	}
}

func (c *Client) markSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesSent++
	c.lastMessageAt = time.Now()
}
