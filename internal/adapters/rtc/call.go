package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// mediaCall is a core.ActiveCall over one peer connection.
type mediaCall struct {
	id     string
	remote domain.PeerID
	conn   *Connection
	logger zerolog.Logger

	mu           sync.Mutex
	senders      []core.Sender
	remoteStream *core.MediaStream
	onStream     []func(core.Stream)
	closed       bool
	onClosed     []func()
	// pendingICE holds candidates that arrived before the remote description.
	pendingICE []webrtc.ICECandidateInit
	described  bool

	release func()
}

var _ core.ActiveCall = (*mediaCall)(nil)

func newMediaCall(id string, remote domain.PeerID, conn *Connection, logger zerolog.Logger, release func()) *mediaCall {
	c := &mediaCall{
		id:      id,
		remote:  remote,
		conn:    conn,
		logger:  logger,
		release: release,
	}
	conn.OnTrack(c.handleTrack)
	conn.OnClosed(c.handleClosed)
	return c
}

func (c *mediaCall) RemoteID() domain.PeerID { return c.remote }

func (c *mediaCall) Senders() []core.Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Sender, len(c.senders))
	copy(out, c.senders)
	return out
}

// addLocal attaches every sendable track of s.
func (c *mediaCall) addLocal(s core.Stream) error {
	for _, t := range s.Tracks() {
		lt, ok := t.(localTrack)
		if !ok {
			c.logger.Warn().Str("track", t.ID()).Msg("skipping track without rtp output")
			continue
		}
		sender, err := c.conn.AddLocalTrack(lt.Local())
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.senders = append(c.senders, &rtpSender{sender: sender})
		c.mu.Unlock()
	}
	return nil
}

func (c *mediaCall) OnRemoteStream(fn func(core.Stream)) {
	c.mu.Lock()
	if s := c.remoteStream; s != nil {
		c.mu.Unlock()
		fn(s)
		return
	}
	c.onStream = append(c.onStream, fn)
	c.mu.Unlock()
}

func (c *mediaCall) OnClosed(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClosed = append(c.onClosed, fn)
	c.mu.Unlock()
}

func (c *mediaCall) handleTrack(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind, ok := kindOf(track.Kind())
	if !ok {
		return
	}
	relayCtx, cancel := context.WithCancel(ctx)
	relay := newRelay(track, kind, cancel, c.logger)

	c.mu.Lock()
	first := c.remoteStream == nil
	if first {
		c.remoteStream = core.NewStream(track.StreamID())
	}
	stream := c.remoteStream
	stream.AddTrack(relay)
	handlers := c.onStream
	c.onStream = nil
	c.mu.Unlock()

	go relay.loop(relayCtx)

	if first {
		c.logger.Info().Str("stream", stream.ID()).Msg("remote stream started")
		for _, fn := range handlers {
			fn(stream)
		}
	}
}

func (c *mediaCall) handleClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	handlers := c.onClosed
	c.onClosed = nil
	c.mu.Unlock()

	if c.release != nil {
		c.release()
	}
	c.logger.Info().Msg("call closed")
	for _, fn := range handlers {
		fn()
	}
}

func (c *mediaCall) addCandidate(ci webrtc.ICECandidateInit) {
	c.mu.Lock()
	if !c.described {
		c.pendingICE = append(c.pendingICE, ci)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if err := c.conn.AddICECandidate(ci); err != nil {
		c.logger.Warn().Err(err).Msg("add ICE candidate")
	}
}

// markDescribed flushes candidates queued before the remote description.
func (c *mediaCall) markDescribed() {
	c.mu.Lock()
	c.described = true
	queued := c.pendingICE
	c.pendingICE = nil
	c.mu.Unlock()
	for _, ci := range queued {
		if err := c.conn.AddICECandidate(ci); err != nil {
			c.logger.Warn().Err(err).Msg("add queued ICE candidate")
		}
	}
}

// Close hangs up. Safe to call more than once.
func (c *mediaCall) Close() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	c.conn.Close()
	return nil
}

// pendingCall is an inbound OFFER waiting for Answer or Reject.
type pendingCall struct {
	t      *Transport
	id     string
	remote domain.PeerID
	offer  webrtc.SessionDescription

	mu          sync.Mutex
	settled     bool
	cancelled   bool
	onCancelled []func()
	ice         []webrtc.ICECandidateInit
}

var _ core.PendingCall = (*pendingCall)(nil)

func (p *pendingCall) RemoteID() domain.PeerID { return p.remote }

func (p *pendingCall) settle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return false
	}
	p.settled = true
	return true
}

func (p *pendingCall) addCandidate(ci webrtc.ICECandidateInit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ice = append(p.ice, ci)
}

func (p *pendingCall) takeCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.ice
	p.ice = nil
	return out
}

func (p *pendingCall) Answer(ctx context.Context, local core.Stream) (core.ActiveCall, error) {
	if !p.settle() {
		return nil, domain.ErrNoIncomingCall
	}
	return p.t.answer(ctx, p, local)
}

func (p *pendingCall) OnCancelled(fn func()) {
	p.mu.Lock()
	if !p.cancelled {
		p.onCancelled = append(p.onCancelled, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn()
}

// cancel settles an offer whose caller left. Answer then reports
// ErrNoIncomingCall. No-op once answered or rejected.
func (p *pendingCall) cancel() {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled = true
	p.cancelled = true
	fns := p.onCancelled
	p.onCancelled = nil
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *pendingCall) Reject() {
	if !p.settle() {
		return
	}
	p.t.dropPending(p.id)
	p.t.logger.Info().Str("remote", p.remote.String()).Str("connection", p.id).Msg("incoming call rejected")
}
