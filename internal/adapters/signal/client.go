package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var ErrNotConnected = errors.New("signaling not connected")

// Client is the process-wide handle to the rendezvous service. It only
// speaks: join when an identity is assigned, disconnect on teardown.
type Client struct {
	cfg    config.Signal
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu   sync.Mutex
	conn *WsSignalConn
	done chan struct{}
}

var _ core.Signaling = (*Client)(nil)

func NewClient(cfg config.Signal) *Client {
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger: log.With().Str("module", "adapters.signal").Str("url", cfg.URL).Logger(),
	}
}

// Connect dials the rendezvous service. Calling it on a live client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}
	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	conn := NewWsSignalConn(ws, c.cfg.SendBuffer)
	done := make(chan struct{})
	c.conn = conn
	c.done = done

	go c.writePump(conn)
	go c.readPump(conn, done)
	c.logger.Info().Msg("signaling connected")
	return nil
}

func (c *Client) writePump(conn *WsSignalConn) {
	timeout := c.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for data := range conn.send {
		if err := conn.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			c.logger.Error().Err(err).Msg("writePump set deadline")
			conn.Close()
			return
		}
		if err := conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Error().Err(err).Msg("writePump write error")
			conn.Close()
			return
		}
	}
}

// readPump drains control frames so pings are answered and closes are seen.
func (c *Client) readPump(conn *WsSignalConn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			c.logger.Debug().Err(err).Msg("readPump stopped")
			conn.Close()
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}
	}
}

func (c *Client) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.TrySend(data); err != nil {
		if errors.Is(err, ErrConnClosed) {
			return ErrNotConnected
		}
		return err
	}
	return nil
}

// Announce tells the rendezvous service this peer is reachable at id.
func (c *Client) Announce(id domain.PeerID) error {
	err := c.send(map[string]any{"type": "join", "id": id.String()})
	if err == nil {
		c.logger.Info().Str("peer", id.String()).Msg("join sent")
	}
	return err
}

// NotifyLeaving is fire and forget.
func (c *Client) NotifyLeaving() error {
	err := c.send(map[string]any{"type": "disconnect"})
	if err == nil {
		c.logger.Info().Msg("disconnect sent")
	}
	return err
}

// Close flushes nothing; queued frames may be lost. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Close()
	<-done
	c.logger.Info().Msg("signaling closed")
}
