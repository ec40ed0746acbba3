package domain

import "fmt"

// TrackKind is the closed set of media kinds a track can carry.
type TrackKind int

const (
	TrackKindAudio TrackKind = iota
	TrackKindVideo
)

// TrackKinds lists every kind, in sender order.
var TrackKinds = []TrackKind{TrackKindAudio, TrackKindVideo}

func (k TrackKind) String() string {
	switch k {
	case TrackKindAudio:
		return "audio"
	case TrackKindVideo:
		return "video"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MediaConstraints describe a camera+microphone request.
type MediaConstraints struct {
	Video bool
	Audio bool

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	Width        int
	Height       int
	VideoBitRate int
}

// DefaultMediaConstraints mirrors what a browser call page asks for:
// camera plus a processed microphone.
func DefaultMediaConstraints() MediaConstraints {
	return MediaConstraints{
		Video:            true,
		Audio:            true,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		Width:            640,
		Height:           480,
		VideoBitRate:     1_500_000,
	}
}

// ScreenConstraints describe a screen capture request.
type ScreenConstraints struct {
	Cursor           bool
	Audio            bool
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
	VideoBitRate     int
}

func DefaultScreenConstraints() ScreenConstraints {
	return ScreenConstraints{
		Cursor:           true,
		Audio:            true,
		EchoCancellation: true,
		NoiseSuppression: true,
		SampleRate:       44100,
		VideoBitRate:     2_500_000,
	}
}
