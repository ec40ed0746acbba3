package rtc

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var ErrNotSendable = errors.New("track cannot be sent over rtp")

// localTrack is a core.Track that can feed an RTP sender.
type localTrack interface {
	core.Track
	Local() webrtc.TrackLocal
}

type rtpSender struct {
	sender *webrtc.RTPSender
}

func (s *rtpSender) Kind() (domain.TrackKind, bool) {
	t := s.sender.Track()
	if t == nil {
		return 0, false
	}
	return kindOf(t.Kind())
}

// ReplaceTrack swaps the outgoing track without renegotiation.
func (s *rtpSender) ReplaceTrack(t core.Track) error {
	if t == nil {
		return s.sender.ReplaceTrack(nil)
	}
	lt, ok := t.(localTrack)
	if !ok {
		return ErrNotSendable
	}
	return s.sender.ReplaceTrack(lt.Local())
}
