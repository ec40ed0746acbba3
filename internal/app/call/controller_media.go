package call

import (
	"context"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// AcquireLocalMedia captures camera and microphone and shows them locally.
// Toggles and calls issued meanwhile wait for it to settle.
func (c *Controller) AcquireLocalMedia(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.terminatedLocked() {
		c.mu.Unlock()
		return domain.ErrSessionTerminated
	}
	if c.localOriginal != nil {
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	if prev == domain.CallStateIdle {
		c.state = domain.CallStateAwaitingLocalMedia
	}
	gen := c.gen
	c.mu.Unlock()
	c.publishState()

	stream, err := c.media.AcquireCameraAndMic(ctx, c.opts.Media)

	c.mu.Lock()
	if c.gen != gen || c.terminatedLocked() {
		c.mu.Unlock()
		if stream != nil {
			c.media.ReleaseAll(stream)
		}
		return domain.ErrSessionTerminated
	}
	if err != nil {
		if c.state == domain.CallStateAwaitingLocalMedia {
			c.state = prev
		}
		c.mu.Unlock()
		c.publishError("acquire_media", err)
		c.publishState()
		return err
	}
	// A running screen share keeps the surface; revert brings the camera in.
	c.localOriginal = stream
	sharing := c.screen != nil
	if !sharing {
		c.localActive = stream
	}
	if c.state == domain.CallStateAwaitingLocalMedia {
		c.state = domain.CallStateReady
	}
	c.mu.Unlock()

	if !sharing {
		c.local.Bind(stream)
	}
	c.logger.Info().Str("stream", stream.ID()).Bool("sharing", sharing).Msg("local media ready")
	c.publishState()
	return nil
}

func (c *Controller) ToggleAudio() (bool, error) { return c.toggle(domain.TrackKindAudio) }

func (c *Controller) ToggleVideo() (bool, error) { return c.toggle(domain.TrackKindVideo) }

// toggle flips the first track of kind in the local-active stream. A stream
// without that kind is left alone.
func (c *Controller) toggle(kind domain.TrackKind) (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	active := c.localActive
	c.mu.Unlock()
	if active == nil {
		return false, domain.ErrNoLocalMedia
	}
	t := core.FirstTrack(active, kind)
	if t == nil {
		return false, nil
	}
	enabled := !t.Enabled()
	t.SetEnabled(enabled)
	c.logger.Info().Str("kind", kind.String()).Bool("enabled", enabled).Msg("track toggled")
	c.publishState()
	return enabled, nil
}

// resync points every sender at the matching track of s. Senders whose kind
// s lacks keep their current track. Callers hold opMu.
func (c *Controller) resync(call core.ActiveCall, s core.Stream) {
	if call == nil || s == nil {
		return
	}
	for _, sender := range call.Senders() {
		kind, ok := sender.Kind()
		if !ok {
			continue
		}
		next := core.FirstTrack(s, kind)
		if next == nil {
			continue
		}
		if err := sender.ReplaceTrack(next); err != nil {
			c.logger.Warn().Err(err).Str("kind", kind.String()).Msg("replace track")
		}
	}
}
