//go:build !linux

package media

import (
	"context"

	"github.com/dkeye/peercall/internal/domain"
)

// Capture drivers are only wired for linux; other builds receive only.
type noCapturer struct{}

func newPlatformCapturer() capturer { return noCapturer{} }

func (noCapturer) cameraAndMic(context.Context, domain.MediaConstraints) ([]*deviceTrack, error) {
	return nil, domain.NewDeviceError("acquire camera", domain.DeviceNoDevice, nil)
}

func (noCapturer) screen(context.Context, domain.ScreenConstraints) ([]*deviceTrack, error) {
	return nil, domain.ErrUnsupportedPlatform
}

func (noCapturer) screenAvailable() bool { return false }
