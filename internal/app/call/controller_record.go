package call

import (
	"errors"

	"github.com/dkeye/peercall/internal/domain"
)

var ErrNoRecorder = errors.New("recording not configured")

// StartRecording records the stream that is local-active right now.
func (c *Controller) StartRecording() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	active := c.localActive
	c.mu.Unlock()
	if active == nil {
		return domain.ErrNoLocalMedia
	}
	if c.recorder == nil {
		return ErrNoRecorder
	}
	if err := c.recorder.Start(active); err != nil {
		c.publishError("start_recording", err)
		return err
	}
	c.publishState()
	return nil
}

// StopRecording returns the finished artifact, or nil when nothing was recording.
func (c *Controller) StopRecording() (*domain.Artifact, error) {
	if c.recorder == nil {
		return nil, nil
	}
	art, err := c.recorder.Stop()
	if art != nil {
		c.publishState()
	}
	if err != nil {
		c.publishError("stop_recording", err)
	}
	return art, err
}
