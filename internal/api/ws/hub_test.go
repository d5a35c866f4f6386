package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceads/pkg/dto"
)

func startHub(t *testing.T, origins []string) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(origins)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub, url := startHub(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(dto.WSEvent{Type: "visitor_seen", MemberID: "abc", Created: true})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev dto.WSEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "visitor_seen", ev.Type)
	assert.Equal(t, "abc", ev.MemberID)
	assert.True(t, ev.Created)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub, url := startHub(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsUnknownOrigin(t *testing.T) {
	hub, url := startHub(t, []string{"http://kiosk.local"})

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.ClientCount())

	header = http.Header{"Origin": []string{"http://kiosk.local"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestHub_BroadcastWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < 1000; i++ {
		hub.Broadcast(dto.WSEvent{Type: "visitor_seen"})
	}
}
