package signal

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

	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// rendezvous records every frame a client sends.
func rendezvous(t *testing.T) (*httptest.Server, <-chan map[string]any) {
	t.Helper()
	frames := make(chan map[string]any, 8)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var m map[string]any
			if err := ws.ReadJSON(&m); err != nil {
				return
			}
			frames <- m
		}
	}))
	t.Cleanup(srv.Close)
	return srv, frames
}

func clientConfig(url string) config.Signal {
	return config.Signal{URL: url, WriteTimeout: time.Second, SendBuffer: 4, DialTimeout: time.Second}
}

func next(t *testing.T, frames <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case m := <-frames:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func TestClientAnnounceAndLeave(t *testing.T) {
	srv, frames := rendezvous(t)
	c := NewClient(clientConfig(wsURL(srv)))
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.NoError(t, c.Announce(domain.PeerID("peer-42")))
	assert.Equal(t, map[string]any{"type": "join", "id": "peer-42"}, next(t, frames))

	require.NoError(t, c.NotifyLeaving())
	assert.Equal(t, map[string]any{"type": "disconnect"}, next(t, frames))
}

func TestClientNotConnected(t *testing.T) {
	srv, _ := rendezvous(t)
	c := NewClient(clientConfig(wsURL(srv)))

	assert.ErrorIs(t, c.Announce("peer-42"), ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.NotifyLeaving(), ErrNotConnected)
}

func TestClientConnectFailure(t *testing.T) {
	c := NewClient(clientConfig("ws://127.0.0.1:1/ws"))
	assert.Error(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.Announce("peer-42"), ErrNotConnected)
}

func TestCallRateLimiter(t *testing.T) {
	rl := NewCallRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "limits are per client")

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("a"))
}

func TestEventsControllerSnapshotAndPing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := core.NewWatcherHub()
	ctl := &EventsWSController{
		Hub:      hub,
		Snapshot: func() any { return map[string]string{"state": "idle"} },
		Buffer:   4,
	}
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", "ct-1")
		ctl.HandleEvents(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	var first map[string]any
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, "state", first["type"])
	assert.Equal(t, map[string]any{"state": "idle"}, first["session"])
	assert.Equal(t, 1, hub.Count())

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	var pong map[string]any
	require.NoError(t, ws.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])

	res := hub.Broadcast(core.Frame(`{"type":"display"}`))
	assert.Equal(t, 1, res.SentTo)
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
