package hub

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := New()
	go h.Run(ctx)
	return h, ctx
}

func TestSendToUser_OnlyTargetsUser(t *testing.T) {
	h, _ := startHub(t)

	alice := NewClient("c1", "alice", nil, h)
	bob := NewClient("c2", "bob", nil, h)
	h.Register(alice)
	h.Register(bob)

	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	sent := h.SendToUser("alice", ServerMessage{Type: MessageTypeAlert, Payload: "x"})
	assert.Equal(t, 1, sent)
	assert.Len(t, alice.Send, 1)
	assert.Len(t, bob.Send, 0)

	assert.Equal(t, 0, h.SendToUser("carol", ServerMessage{Type: MessageTypeAlert}))
}

func TestSendToUser_DropsSlowClient(t *testing.T) {
	h, _ := startHub(t)

	c := NewClient("c1", "alice", nil, h)
	h.Register(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	for i := 0; i < sendBufferSize; i++ {
		require.True(t, c.TrySend(ServerMessage{Type: MessageTypeAlert}))
	}

	assert.Equal(t, 0, h.SendToUser("alice", ServerMessage{Type: MessageTypeAlert}))
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServeWS_DeliversAlert(t *testing.T) {
	h, ctx := startHub(t)

	srv := httptest.NewServer(h.ServeWS(ctx))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user_id=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	h.SendToUser("alice", ServerMessage{Type: MessageTypeAlert, Payload: map[string]string{"title": "steam"}, Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeAlert, msg.Type)
}

func TestServeWS_RequiresUser(t *testing.T) {
	h, ctx := startHub(t)

	rec := httptest.NewRecorder()
	h.ServeWS(ctx)(rec, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 400, rec.Code)
}
