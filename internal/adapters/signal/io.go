package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
)

func newConnID() string { return uuid.NewString()[:8] }

func (ctl *EventsWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.PingPeriod > 0 {
		t := time.NewTicker(ctl.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	timeout := ctl.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *EventsWSController) readPump(ctx context.Context, wid core.WatcherID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("watcher", string(wid)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("watcher", string(wid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("watcher", string(wid)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(wid, c, data)
		}
	}
}

func (ctl *EventsWSController) handleSignal(wid core.WatcherID, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "ping":
		sendJSON(c, map[string]any{"type": "pong"})
	case "snapshot":
		if ctl.Snapshot != nil {
			sendJSON(c, map[string]any{"type": "state", "session": ctl.Snapshot()})
		}
	default:
		log.Warn().Str("module", "signal").Str("watcher", string(wid)).Str("type", env.Type).Msg("unknown signal")
	}
}

func sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
