package core

import (
	"context"
	"time"

	"github.com/dkeye/peercall/internal/domain"
)

// Sample is one encoded media frame flowing out of a track.
type Sample struct {
	Kind      domain.TrackKind
	Data      []byte
	Keyframe  bool
	Timestamp time.Time
	Duration  time.Duration
}

// Track is a single live audio or video source.
// Disabling a track blanks it without releasing the device.
type Track interface {
	ID() string
	Kind() domain.TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop releases the underlying capture. Idempotent.
	Stop()
	Ended() bool
	// OnEnded registers fn to run once when the track ends, whoever ends it.
	// If the track has already ended fn runs immediately.
	OnEnded(fn func())
	// Subscribe delivers encoded samples to fn until the returned cancel is called.
	Subscribe(fn func(Sample)) (cancel func())
}

// Stream groups tracks that are displayed and sent together.
type Stream interface {
	ID() string
	Tracks() []Track
	TracksOf(kind domain.TrackKind) []Track
}

// MediaSource acquires and releases local capture streams.
// The source owns the tracks it hands out.
type MediaSource interface {
	AcquireCameraAndMic(ctx context.Context, c domain.MediaConstraints) (Stream, error)
	AcquireScreenCapture(ctx context.Context, c domain.ScreenConstraints) (Stream, error)
	ReleaseAll(s Stream)
	ScreenShareSupported() bool
}

// FirstTrack returns the first track of kind in s, or nil.
func FirstTrack(s Stream, kind domain.TrackKind) Track {
	if s == nil {
		return nil
	}
	tracks := s.TracksOf(kind)
	if len(tracks) == 0 {
		return nil
	}
	return tracks[0]
}
