package hub

import "time"

// Message types exchanged over the socket
const (
	MessageTypeAlert     = "alert"
	MessageTypeHeartbeat = "heartbeat"
	MessageTypeError     = "error"
)

// ClientMessage is a message from client to server
type ClientMessage struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ServerMessage is a message from server to client
type ServerMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorMessage is the payload of an error message
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectionStats describes one connection
type ConnectionStats struct {
	ClientID      string    `json:"client_id"`
	UserID        string    `json:"user_id"`
	ConnectedAt   time.Time `json:"connected_at"`
	MessagesSent  int64     `json:"messages_sent"`
	LastMessageAt time.Time `json:"last_message_at"`
}
