package domain

import (
	"errors"
	"fmt"
)

// Media errors.
var (
	ErrDevice              = errors.New("media device unavailable")
	ErrUnsupportedPlatform = errors.New("capability not supported on this platform")
	ErrNoLocalMedia        = errors.New("local media not acquired")
)

// Transport and call errors.
var (
	ErrTransportInit     = errors.New("peer transport initialization failed")
	ErrSessionTerminated = errors.New("session terminated")
	ErrUnreachablePeer   = errors.New("peer unreachable")
	ErrAlreadyInCall     = errors.New("already in a call")
	ErrNoRemoteTarget    = errors.New("remote target not set")
	ErrNoIncomingCall    = errors.New("no incoming call")
)

// Screen share and recording errors.
var (
	ErrAlreadySharing   = errors.New("screen share already active")
	ErrNotSharing       = errors.New("screen share not active")
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

type DeviceFailure int

const (
	DeviceNoDevice DeviceFailure = iota
	DevicePermissionDenied
	DeviceCaptureUnsupported
	DeviceCancelled
)

func (f DeviceFailure) String() string {
	switch f {
	case DeviceNoDevice:
		return "no device"
	case DevicePermissionDenied:
		return "permission denied"
	case DeviceCaptureUnsupported:
		return "capture unsupported"
	case DeviceCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DeviceError reports why a capture request failed. It matches ErrDevice.
type DeviceError struct {
	Op     string
	Reason DeviceFailure
	Err    error
}

func NewDeviceError(op string, reason DeviceFailure, err error) *DeviceError {
	return &DeviceError{Op: op, Reason: reason, Err: err}
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s", e.Op, ErrDevice, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.Op, ErrDevice, e.Reason, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDevice}
	}
	return []error{ErrDevice, e.Err}
}
