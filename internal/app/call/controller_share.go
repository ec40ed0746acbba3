package call

import (
	"context"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// StartScreenShare swaps the local-active stream for a screen capture. With a
// call in progress each sender gets the screen track of its own kind; without
// one the capture is only previewed locally. When the capture ends the
// previous stream comes back.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	if !c.IsScreenShareSupported() {
		return domain.ErrUnsupportedPlatform
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.terminatedLocked() {
		c.mu.Unlock()
		return domain.ErrSessionTerminated
	}
	if c.screen != nil {
		c.mu.Unlock()
		return domain.ErrAlreadySharing
	}
	gen := c.gen
	c.mu.Unlock()

	screen, err := c.media.AcquireScreenCapture(ctx, c.opts.Screen)
	if err != nil {
		c.publishError("screen_share", err)
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.terminatedLocked() {
		c.mu.Unlock()
		c.media.ReleaseAll(screen)
		return domain.ErrSessionTerminated
	}
	c.screen = screen
	c.localActive = screen
	call := c.call
	c.mu.Unlock()

	c.resync(call, screen)
	c.local.Bind(screen)
	for _, t := range screen.Tracks() {
		t.OnEnded(func() { go c.revertShare(screen) })
	}

	remote := ""
	if call != nil {
		remote = call.RemoteID().String()
	}
	c.logger.Info().Str("stream", screen.ID()).Str("remote", remote).Msg("screen share started")
	c.publishState()
	return nil
}

// StopScreenShare ends the share as if the capture itself had ended.
func (c *Controller) StopScreenShare() error {
	c.mu.Lock()
	screen := c.screen
	c.mu.Unlock()
	if screen == nil {
		return domain.ErrNotSharing
	}
	c.revertShare(screen)
	return nil
}

// revertShare puts the original stream back on the senders and the local
// surface. A stale screen (already reverted or replaced) is only released.
func (c *Controller) revertShare(screen core.Stream) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.screen != screen {
		c.mu.Unlock()
		c.media.ReleaseAll(screen)
		return
	}
	c.screen = nil
	c.localActive = c.localOriginal
	original, call := c.localOriginal, c.call
	c.mu.Unlock()

	// Calls need camera and microphone, so a nil original means a preview
	// with nothing to hand back to.
	if original != nil {
		c.resync(call, original)
	}
	c.local.Bind(original)
	c.media.ReleaseAll(screen)

	c.logger.Info().Str("stream", screen.ID()).Msg("screen share ended")
	c.publishState()
}
