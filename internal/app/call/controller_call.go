package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// Start opens the peer transport and announces the assigned identity.
// A transport failure terminates this controller.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.terminatedLocked() {
		c.mu.Unlock()
		return domain.ErrSessionTerminated
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	gen := c.gen
	c.mu.Unlock()

	c.transport.OnIncomingCall(c.onIncoming)
	id, err := c.transport.Open(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrTransportInit) {
			err = fmt.Errorf("%w: %v", domain.ErrTransportInit, err)
		}
		c.mu.Lock()
		c.failed = err
		c.mu.Unlock()
		c.publishError("start", err)
		c.publishState()
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.terminatedLocked() {
		c.mu.Unlock()
		return domain.ErrSessionTerminated
	}
	c.identity = id
	c.mu.Unlock()

	c.logger.Info().Str("peer", id.String()).Msg("session started")
	if err := c.signaling.Announce(id); err != nil {
		c.logger.Warn().Err(err).Msg("announce failed")
	}
	c.publishState()
	return nil
}

// reserveLocked claims the Calling state for one place or answer. Callers
// hold opMu so a pending acquisition has settled. A screen preview alone is
// not enough: camera and microphone must have been acquired.
func (c *Controller) reserveLocked() (core.Stream, uint64, error) {
	if c.terminatedLocked() {
		return nil, 0, domain.ErrSessionTerminated
	}
	if c.state.Busy() {
		return nil, 0, domain.ErrAlreadyInCall
	}
	if c.localOriginal == nil || c.localActive == nil {
		return nil, 0, domain.ErrNoLocalMedia
	}
	c.state = domain.CallStateCalling
	return c.localActive, c.gen, nil
}

func (c *Controller) checkPlaceLocked() (core.Stream, uint64, domain.PeerID, error) {
	switch {
	case c.terminatedLocked():
		return nil, 0, "", domain.ErrSessionTerminated
	case c.state.Busy():
		return nil, 0, "", domain.ErrAlreadyInCall
	case c.target.Empty():
		return nil, 0, "", domain.ErrNoRemoteTarget
	case c.localOriginal == nil || c.localActive == nil:
		return nil, 0, "", domain.ErrNoLocalMedia
	case !c.started || c.identity.Empty():
		return nil, 0, "", ErrNotStarted
	}
	stream, gen, err := c.reserveLocked()
	return stream, gen, c.target, err
}

// PlaceCall dials the remote target with the local-active stream.
func (c *Controller) PlaceCall(ctx context.Context) error {
	c.opMu.Lock()
	c.mu.Lock()
	stream, gen, target, err := c.checkPlaceLocked()
	c.mu.Unlock()
	c.opMu.Unlock()
	if err != nil {
		return err
	}
	c.publishState()

	c.logger.Info().Str("remote", target.String()).Str("stream", stream.ID()).Msg("placing call")
	call, err := c.transport.Place(ctx, target, stream)
	return c.settle("place", call, err, gen, stream)
}

// settle finishes a place or answer: it installs the call or rolls back to Ready.
func (c *Controller) settle(op string, call core.ActiveCall, err error, gen uint64, sent core.Stream) error {
	c.mu.Lock()
	if c.gen != gen || c.terminatedLocked() {
		c.mu.Unlock()
		if call != nil {
			_ = call.Close()
		}
		return domain.ErrSessionTerminated
	}
	if err != nil {
		c.state = domain.CallStateReady
		c.mu.Unlock()
		c.publishError(op, err)
		c.publishState()
		return err
	}
	c.call = call
	c.state = domain.CallStateInCall
	c.mu.Unlock()

	call.OnRemoteStream(func(s core.Stream) { c.onRemoteStream(call, s) })
	call.OnClosed(func() { c.onCallClosed(call) })

	// Screen share may have swapped the local stream while negotiating.
	c.opMu.Lock()
	c.mu.Lock()
	current := c.localActive
	still := c.call == call
	c.mu.Unlock()
	if still && current != sent {
		c.resync(call, current)
	}
	c.opMu.Unlock()

	c.logger.Info().Str("remote", call.RemoteID().String()).Str("op", op).Msg("in call")
	c.publishState()
	return nil
}

func (c *Controller) onRemoteStream(call core.ActiveCall, s core.Stream) {
	c.mu.Lock()
	current := c.call == call
	c.mu.Unlock()
	if !current {
		return
	}
	c.remote.Bind(s)
	c.logger.Info().Str("remote", call.RemoteID().String()).Str("stream", s.ID()).Msg("remote stream bound")
}

// onCallClosed handles the remote side (or the network) ending the call.
func (c *Controller) onCallClosed(call core.ActiveCall) {
	c.mu.Lock()
	if c.call != call {
		c.mu.Unlock()
		return
	}
	c.call = nil
	if c.state == domain.CallStateInCall {
		c.state = domain.CallStateReady
	}
	c.mu.Unlock()

	c.remote.Bind(nil)
	c.logger.Info().Str("remote", call.RemoteID().String()).Msg("call closed by remote")
	c.publishState()
}

// onIncoming runs on the transport's goroutine for every inbound offer.
func (c *Controller) onIncoming(p core.PendingCall) {
	c.mu.Lock()
	if c.terminatedLocked() {
		c.mu.Unlock()
		p.Reject()
		return
	}
	if !c.opts.AutoAnswer {
		if c.state.Busy() {
			c.mu.Unlock()
			p.Reject()
			c.logger.Info().Str("remote", p.RemoteID().String()).Msg("incoming call rejected, busy")
			return
		}
		prev := c.pending
		c.pending = p
		c.mu.Unlock()
		if prev != nil {
			prev.Reject()
		}
		c.logger.Info().Str("remote", p.RemoteID().String()).Msg("incoming call waiting")
		c.publishState()
		p.OnCancelled(func() { c.onIncomingCancelled(p) })
		return
	}
	c.mu.Unlock()

	if err := c.answer(context.Background(), p); err != nil {
		c.logger.Info().Err(err).Str("remote", p.RemoteID().String()).Msg("incoming call not answered")
	}
}

// onIncomingCancelled drops a held call whose caller went away.
func (c *Controller) onIncomingCancelled(p core.PendingCall) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	c.logger.Info().Str("remote", p.RemoteID().String()).Msg("incoming call withdrawn")
	c.publishState()
}

func (c *Controller) answer(ctx context.Context, p core.PendingCall) error {
	c.opMu.Lock()
	c.mu.Lock()
	stream, gen, err := c.reserveLocked()
	c.mu.Unlock()
	c.opMu.Unlock()
	if err != nil {
		p.Reject()
		if !errors.Is(err, domain.ErrSessionTerminated) {
			c.publishError("answer", err)
		}
		return err
	}
	c.publishState()

	c.logger.Info().Str("remote", p.RemoteID().String()).Str("stream", stream.ID()).Msg("answering call")
	call, err := p.Answer(ctx, stream)
	return c.settle("answer", call, err, gen, stream)
}

// AcceptIncoming answers the held incoming call.
func (c *Controller) AcceptIncoming(ctx context.Context) error {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	c.mu.Unlock()
	if p == nil {
		return domain.ErrNoIncomingCall
	}
	return c.answer(ctx, p)
}

func (c *Controller) RejectIncoming() error {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	c.mu.Unlock()
	if p == nil {
		return domain.ErrNoIncomingCall
	}
	p.Reject()
	c.logger.Info().Str("remote", p.RemoteID().String()).Msg("incoming call rejected")
	c.publishState()
	return nil
}

// EndCall tears the whole session down. Calling it again is a no-op.
func (c *Controller) EndCall() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.gen++
	c.state = domain.CallStateEnding
	call, pending := c.call, c.pending
	active, original, screen := c.localActive, c.localOriginal, c.screen
	c.call, c.pending = nil, nil
	c.localActive, c.localOriginal, c.screen = nil, nil, nil
	c.mu.Unlock()
	c.publishState()

	if c.recorder != nil {
		if _, err := c.recorder.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("stop recording on end")
		}
	}
	if pending != nil {
		pending.Reject()
	}
	if call != nil {
		_ = call.Close()
	}
	for _, s := range []core.Stream{active, original, screen} {
		if s != nil {
			c.media.ReleaseAll(s)
		}
	}
	c.local.Bind(nil)
	c.remote.Bind(nil)

	if err := c.signaling.NotifyLeaving(); err != nil {
		c.logger.Warn().Err(err).Msg("notify leaving failed")
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("close transport")
	}

	c.mu.Lock()
	c.identity = ""
	c.state = domain.CallStateIdle
	c.mu.Unlock()
	c.logger.Info().Msg("session ended")
	c.publishState()
}
