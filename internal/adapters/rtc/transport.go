package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var (
	ErrAlreadyOpen = errors.New("transport already opened")
	ErrNotOpen     = errors.New("transport not open")
	ErrClosed      = errors.New("transport closed")
)

type answerResult struct {
	sdp webrtc.SessionDescription
	err error
}

// outgoing is an OFFER waiting for its ANSWER.
type outgoing struct {
	call   *mediaCall
	answer chan answerResult
}

// Transport is the core.PeerTransport over pion peer connections and a
// PeerJS-compatible broker.
type Transport struct {
	cfg        config.Transport
	api        *webrtc.API
	ice        webrtc.Configuration
	endpoint   brokerEndpoint
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     zerolog.Logger

	writeTimeout time.Duration
	sendBuffer   int

	mu         sync.Mutex
	opened     bool
	closed     bool
	id         domain.PeerID
	broker     *brokerConn
	onIncoming func(core.PendingCall)
	calls      map[string]*mediaCall
	dialing    map[string]*outgoing
	pending    map[string]*pendingCall
}

var _ core.PeerTransport = (*Transport)(nil)

func NewTransport(cfg config.Transport, signal config.Signal) (*Transport, error) {
	endpoint, err := newBrokerEndpoint(cfg.BrokerURL, cfg.Path, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportInit, err)
	}
	api, err := newAPI(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportInit, err)
	}
	return &Transport{
		cfg:          cfg,
		api:          api,
		ice:          iceConfig(cfg),
		endpoint:     endpoint,
		httpClient:   &http.Client{Timeout: cfg.OpenTimeout},
		dialer:       &websocket.Dialer{HandshakeTimeout: cfg.OpenTimeout},
		logger:       log.With().Str("module", "adapters.rtc").Logger(),
		writeTimeout: signal.WriteTimeout,
		sendBuffer:   signal.SendBuffer,
		calls:        make(map[string]*mediaCall),
		dialing:      make(map[string]*outgoing),
		pending:      make(map[string]*pendingCall),
	}, nil
}

// Open registers with the broker. It can succeed at most once.
func (t *Transport) Open(ctx context.Context) (domain.PeerID, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", ErrClosed
	}
	if t.opened {
		t.mu.Unlock()
		return "", ErrAlreadyOpen
	}
	t.opened = true
	t.mu.Unlock()

	if t.cfg.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.OpenTimeout)
		defer cancel()
	}

	id, err := fetchID(ctx, t.httpClient, t.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: fetch id: %v", domain.ErrTransportInit, err)
	}
	ws, _, err := t.dialer.DialContext(ctx, t.endpoint.socketURL(id, newToken()), nil)
	if err != nil {
		return "", fmt.Errorf("%w: dial broker: %v", domain.ErrTransportInit, err)
	}
	if err := awaitOpen(ctx, ws); err != nil {
		_ = ws.Close()
		return "", fmt.Errorf("%w: %v", domain.ErrTransportInit, err)
	}

	bc := newBrokerConn(ws, t.sendBuffer, t.writeTimeout, t.cfg.Heartbeat)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		bc.Close()
		return "", ErrClosed
	}
	t.id = domain.PeerID(id)
	t.broker = bc
	t.mu.Unlock()
	logger := t.logger.With().Str("peer", id).Logger()

	go bc.writePump(logger)
	go bc.readPump(logger, t.handle)

	logger.Info().Msg("registered with broker")
	return domain.PeerID(id), nil
}

// awaitOpen reads until the broker confirms the registration.
func awaitOpen(ctx context.Context, ws *websocket.Conn) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
		defer ws.SetReadDeadline(time.Time{})
	}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("await OPEN: %w", err)
		}
		var m brokerMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		switch m.Type {
		case msgOpen:
			return nil
		case msgIDTaken:
			return errors.New("id taken")
		case msgError:
			var p errorPayload
			_ = json.Unmarshal(m.Payload, &p)
			return fmt.Errorf("broker error: %s", p.Msg)
		}
	}
}

func (t *Transport) OnIncomingCall(fn func(core.PendingCall)) {
	t.mu.Lock()
	t.onIncoming = fn
	t.mu.Unlock()
}

func (t *Transport) send(typ string, dst domain.PeerID, payload any) error {
	data, err := encodeMessage(typ, dst.String(), payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	bc := t.broker
	t.mu.Unlock()
	if bc == nil {
		return ErrNotOpen
	}
	return bc.TrySend(data)
}

func (t *Transport) newCall(id string, remote domain.PeerID) (*mediaCall, error) {
	conn, err := NewConnection(t.api, t.ice, id)
	if err != nil {
		return nil, err
	}
	logger := t.logger.With().Str("remote", remote.String()).Str("connection", id).Logger()
	call := newMediaCall(id, remote, conn, logger, func() {
		t.mu.Lock()
		delete(t.calls, id)
		t.mu.Unlock()
	})
	conn.Start(context.Background())
	return call, nil
}

// Place offers local to remote and waits for the answer.
func (t *Transport) Place(ctx context.Context, remote domain.PeerID, local core.Stream) (core.ActiveCall, error) {
	if local == nil || len(local.Tracks()) == 0 {
		return nil, domain.ErrNoLocalMedia
	}
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return nil, ErrClosed
	case t.broker == nil:
		t.mu.Unlock()
		return nil, ErrNotOpen
	}
	t.mu.Unlock()

	id := "mc_" + uuid.NewString()
	call, err := t.newCall(id, remote)
	if err != nil {
		return nil, err
	}
	if err := call.addLocal(local); err != nil {
		_ = call.Close()
		return nil, err
	}
	offer, err := call.conn.CreateOffer()
	if err != nil {
		_ = call.Close()
		return nil, err
	}

	out := &outgoing{call: call, answer: make(chan answerResult, 1)}
	t.mu.Lock()
	t.dialing[id] = out
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.dialing, id)
		t.mu.Unlock()
	}()

	if err := t.send(msgOffer, remote, sdpPayload{SDP: *offer, Type: connectionTypeMedia, ConnectionID: id, Browser: "peercall"}); err != nil {
		_ = call.Close()
		return nil, err
	}
	call.logger.Info().Msg("offer sent")

	if t.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.CallTimeout)
		defer cancel()
	}

	select {
	case res := <-out.answer:
		if res.err != nil {
			_ = call.Close()
			return nil, res.err
		}
		if err := call.conn.ApplyAnswer(res.sdp); err != nil {
			_ = call.Close()
			return nil, err
		}
		call.markDescribed()
		t.mu.Lock()
		t.calls[id] = call
		t.mu.Unlock()
		call.logger.Info().Msg("call established")
		return call, nil
	case <-ctx.Done():
		_ = call.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no answer from %s", domain.ErrUnreachablePeer, remote)
		}
		return nil, ctx.Err()
	}
}

func (t *Transport) answer(ctx context.Context, p *pendingCall, local core.Stream) (core.ActiveCall, error) {
	t.dropPending(p.id)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	call, err := t.newCall(p.id, p.remote)
	if err != nil {
		return nil, err
	}
	if local != nil {
		if err := call.addLocal(local); err != nil {
			_ = call.Close()
			return nil, err
		}
	}
	answer, err := call.conn.ApplyOfferAndCreateAnswer(p.offer)
	if err != nil {
		_ = call.Close()
		return nil, err
	}
	for _, ci := range p.takeCandidates() {
		call.addCandidate(ci)
	}
	call.markDescribed()

	t.mu.Lock()
	t.calls[p.id] = call
	t.mu.Unlock()

	if err := t.send(msgAnswer, p.remote, sdpPayload{SDP: *answer, Type: connectionTypeMedia, ConnectionID: p.id, Browser: "peercall"}); err != nil {
		_ = call.Close()
		return nil, err
	}
	call.logger.Info().Msg("answer sent")
	return call, nil
}

func (t *Transport) dropPending(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// handle dispatches one broker frame. Malformed frames are dropped.
func (t *Transport) handle(data []byte) {
	var m brokerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.logger.Warn().Err(err).Msg("bad broker frame")
		return
	}
	src := domain.PeerID(m.Src)
	switch m.Type {
	case msgHeartbeat, msgOpen:
	case msgOffer:
		t.handleOffer(src, m.Payload)
	case msgAnswer:
		t.handleAnswer(m.Payload)
	case msgCandidate:
		t.handleCandidate(m.Payload)
	case msgLeave:
		t.handleLeave(src)
	case msgExpire:
		t.handleExpire(src)
	case msgError:
		var p errorPayload
		_ = json.Unmarshal(m.Payload, &p)
		t.logger.Warn().Str("error", p.Msg).Msg("broker error")
	default:
		t.logger.Debug().Str("type", m.Type).Msg("unhandled broker message")
	}
}

func (t *Transport) handleOffer(src domain.PeerID, raw json.RawMessage) {
	var p sdpPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConnectionID == "" {
		t.logger.Warn().Str("remote", src.String()).Msg("bad offer payload")
		return
	}
	if p.Type != connectionTypeMedia {
		t.logger.Debug().Str("remote", src.String()).Str("type", p.Type).Msg("ignoring non-media offer")
		return
	}
	pc := &pendingCall{t: t, id: p.ConnectionID, remote: src, offer: p.SDP}

	t.mu.Lock()
	fn := t.onIncoming
	if fn != nil {
		t.pending[p.ConnectionID] = pc
	}
	t.mu.Unlock()

	t.logger.Info().Str("remote", src.String()).Str("connection", p.ConnectionID).Msg("incoming call")
	if fn == nil {
		return
	}
	// Answering gathers candidates; keep the read pump free.
	go fn(pc)
}

func (t *Transport) handleAnswer(raw json.RawMessage) {
	var p sdpPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.logger.Warn().Err(err).Msg("bad answer payload")
		return
	}
	t.mu.Lock()
	out, ok := t.dialing[p.ConnectionID]
	t.mu.Unlock()
	if !ok {
		t.logger.Debug().Str("connection", p.ConnectionID).Msg("answer for unknown call")
		return
	}
	select {
	case out.answer <- answerResult{sdp: p.SDP}:
	default:
	}
}

func (t *Transport) handleCandidate(raw json.RawMessage) {
	var p candidatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.logger.Warn().Err(err).Msg("bad candidate payload")
		return
	}
	t.mu.Lock()
	var call *mediaCall
	if c, ok := t.calls[p.ConnectionID]; ok {
		call = c
	} else if out, ok := t.dialing[p.ConnectionID]; ok {
		call = out.call
	}
	pend := t.pending[p.ConnectionID]
	t.mu.Unlock()

	switch {
	case call != nil:
		call.addCandidate(p.Candidate)
	case pend != nil:
		pend.addCandidate(p.Candidate)
	}
}

// handleLeave closes everything shared with a peer that left the broker.
func (t *Transport) handleLeave(src domain.PeerID) {
	t.mu.Lock()
	var calls []*mediaCall
	for _, c := range t.calls {
		if c.remote == src {
			calls = append(calls, c)
		}
	}
	var offers []*pendingCall
	for id, p := range t.pending {
		if p.remote == src {
			offers = append(offers, p)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()
	for _, p := range offers {
		t.logger.Info().Str("remote", src.String()).Str("connection", p.id).Msg("caller left before answer")
		p.cancel()
	}
	for _, c := range calls {
		t.logger.Info().Str("remote", src.String()).Msg("remote left broker")
		_ = c.Close()
	}
}

// handleExpire fails offers the broker could not deliver.
func (t *Transport) handleExpire(dst domain.PeerID) {
	t.mu.Lock()
	var waiting []*outgoing
	for _, out := range t.dialing {
		if out.call.remote == dst {
			waiting = append(waiting, out)
		}
	}
	t.mu.Unlock()
	for _, out := range waiting {
		select {
		case out.answer <- answerResult{err: fmt.Errorf("%w: %s", domain.ErrUnreachablePeer, dst)}:
		default:
		}
	}
}

// Close tears down every call and the broker socket. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	calls := make([]*mediaCall, 0, len(t.calls))
	for _, c := range t.calls {
		calls = append(calls, c)
	}
	for _, out := range t.dialing {
		select {
		case out.answer <- answerResult{err: ErrClosed}:
		default:
		}
	}
	t.pending = make(map[string]*pendingCall)
	bc := t.broker
	t.mu.Unlock()

	for _, c := range calls {
		_ = c.Close()
	}
	if bc != nil {
		bc.Close()
	}
	t.logger.Info().Msg("transport closed")
	return nil
}
