package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// EventsWSController serves the watcher websocket: session events go out,
// pings and snapshot requests come in.
type EventsWSController struct {
	Hub      core.WatcherHub
	Snapshot func() any

	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	Buffer       int
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	if buffer <= 0 {
		buffer = 32
	}
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *EventsWSController) HandleEvents(ctx context.Context, c *gin.Context) {
	wid := core.WatcherID(c.GetString("client_token") + "/" + newConnID())
	log.Info().Str("module", "signal").Str("watcher", string(wid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := NewWsSignalConn(ws, ctl.Buffer)
	ctl.Hub.Add(wid, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		defer ctl.Hub.Remove(wid)
		ctl.readPump(ctx, wid, conn)
	}()

	if ctl.Snapshot != nil {
		sendJSON(conn, map[string]any{"type": "state", "session": ctl.Snapshot()})
	}
}
