package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dkeye/peercall/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrBrokerClosed = errors.New("broker connection closed")
)

// brokerConn is the websocket to the offer/answer broker.
type brokerConn struct {
	conn *websocket.Conn
	send chan core.Frame

	writeTimeout time.Duration
	heartbeat    time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newBrokerConn(ws *websocket.Conn, buffer int, writeTimeout, heartbeat time.Duration) *brokerConn {
	if buffer <= 0 {
		buffer = 32
	}
	return &brokerConn{
		conn:         ws,
		send:         make(chan core.Frame, buffer),
		writeTimeout: writeTimeout,
		heartbeat:    heartbeat,
		done:         make(chan struct{}),
	}
}

func (c *brokerConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrBrokerClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *brokerConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *brokerConn) writePump(logger zerolog.Logger) {
	var tick <-chan time.Time
	if c.heartbeat > 0 {
		t := time.NewTicker(c.heartbeat)
		defer t.Stop()
		tick = t.C
	}
	heartbeat, _ := encodeMessage(msgHeartbeat, "", nil)
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				logger.Debug().Msg("writePump channel closed")
				return
			}
			if err := c.write(data); err != nil {
				logger.Error().Err(err).Msg("writePump write error")
				c.Close()
				return
			}
		case <-tick:
			if err := c.write(heartbeat); err != nil {
				logger.Error().Err(err).Msg("heartbeat write error")
				c.Close()
				return
			}
		}
	}
}

func (c *brokerConn) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *brokerConn) readPump(logger zerolog.Logger, handle func([]byte)) {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				logger.Debug().Msg("readPump stopped")
			default:
				logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		handle(data)
	}
}

// brokerEndpoint builds broker urls from the configured base, path and key.
type brokerEndpoint struct {
	base *url.URL
	path string
	key  string
}

func newBrokerEndpoint(rawBase, path, key string) (brokerEndpoint, error) {
	u, err := url.Parse(rawBase)
	if err != nil {
		return brokerEndpoint{}, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return brokerEndpoint{}, fmt.Errorf("broker url must be http or https, got %q", rawBase)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return brokerEndpoint{base: u, path: path, key: key}, nil
}

func (e brokerEndpoint) idURL() string {
	u := *e.base
	u.Path = strings.TrimSuffix(u.Path, "/") + e.path + e.key + "/id"
	u.RawQuery = url.Values{"ts": {strconv.FormatInt(time.Now().UnixMilli(), 10)}}.Encode()
	return u.String()
}

func (e brokerEndpoint) socketURL(id, token string) string {
	u := *e.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + e.path + "peerjs"
	u.RawQuery = url.Values{"key": {e.key}, "id": {id}, "token": {token}}.Encode()
	return u.String()
}

func fetchID(ctx context.Context, client *http.Client, e brokerEndpoint) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.idURL(), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("broker id request: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(body))
	if id == "" {
		return "", errors.New("broker returned an empty id")
	}
	return id, nil
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
