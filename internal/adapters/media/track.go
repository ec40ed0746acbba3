package media

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// encodedReader is the part of mediadevices.EncodedReadCloser a track pump needs.
type encodedReader interface {
	Read() (mediadevices.EncodedBuffer, func(), error)
	Close() error
}

// deviceTrack is a local capture track. A pump goroutine moves encoded frames
// from the driver into a sample track that peer senders carry, and to sample
// subscribers. Disabled tracks drop frames; the driver keeps capturing.
type deviceTrack struct {
	id     string
	kind   domain.TrackKind
	local  *webrtc.TrackLocalStaticSample
	reader encodedReader
	// release closes the driver-side track; may be nil.
	release func() error

	enabled atomic.Bool

	mu      sync.Mutex
	subs    map[int]func(core.Sample)
	nextSub int
	ended   bool
	onEnded []func()

	stopOnce sync.Once
	logger   zerolog.Logger
}

func codecFor(kind domain.TrackKind) webrtc.RTPCodecCapability {
	switch kind {
	case domain.TrackKindAudio:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	case domain.TrackKindVideo:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	default:
		panic("media: unknown track kind " + kind.String())
	}
}

func newDeviceTrack(kind domain.TrackKind, streamID string, reader encodedReader, release func() error) (*deviceTrack, error) {
	id := kind.String() + "-" + uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(codecFor(kind), id, streamID)
	if err != nil {
		return nil, err
	}
	t := &deviceTrack{
		id:      id,
		kind:    kind,
		local:   local,
		reader:  reader,
		release: release,
		subs:    make(map[int]func(core.Sample)),
		logger: log.With().
			Str("module", "adapters.media").
			Str("track", id).
			Str("kind", kind.String()).
			Logger(),
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *deviceTrack) start() { go t.pump() }

func (t *deviceTrack) ID() string             { return t.id }
func (t *deviceTrack) Kind() domain.TrackKind { return t.kind }
func (t *deviceTrack) Enabled() bool          { return t.enabled.Load() }

func (t *deviceTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
	t.logger.Debug().Bool("enabled", enabled).Msg("track enabled changed")
}

// Local is what an RTP sender carries for this track.
func (t *deviceTrack) Local() webrtc.TrackLocal { return t.local }

func (t *deviceTrack) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *deviceTrack) OnEnded(fn func()) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		fn()
		return
	}
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

func (t *deviceTrack) Subscribe(fn func(core.Sample)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *deviceTrack) Stop() {
	t.stopOnce.Do(func() {
		if err := t.reader.Close(); err != nil {
			t.logger.Debug().Err(err).Msg("close encoded reader")
		}
		if t.release != nil {
			if err := t.release(); err != nil {
				t.logger.Debug().Err(err).Msg("close device track")
			}
		}
		t.logger.Info().Msg("track stopped")
	})
	t.finish(nil)
}

// finish marks the track ended and runs end handlers exactly once.
func (t *deviceTrack) finish(cause error) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	handlers := t.onEnded
	t.onEnded = nil
	t.subs = make(map[int]func(core.Sample))
	t.mu.Unlock()

	if cause != nil {
		t.logger.Info().Err(cause).Msg("track ended")
	}
	for _, fn := range handlers {
		fn()
	}
}

func (t *deviceTrack) pump() {
	last := time.Now()
	for {
		buf, release, err := t.reader.Read()
		if err != nil {
			t.finish(err)
			return
		}
		data := make([]byte, len(buf.Data))
		copy(data, buf.Data)
		if release != nil {
			release()
		}

		now := time.Now()
		dur := now.Sub(last)
		last = now

		if !t.enabled.Load() {
			continue
		}
		if err := t.local.WriteSample(pionmedia.Sample{Data: data, Duration: dur}); err != nil {
			t.logger.Debug().Err(err).Msg("write sample")
		}
		t.fanout(core.Sample{
			Kind:      t.kind,
			Data:      data,
			Keyframe:  isKeyframe(t.kind, data),
			Timestamp: now,
			Duration:  dur,
		})
	}
}

func (t *deviceTrack) fanout(s core.Sample) {
	t.mu.Lock()
	subs := make([]func(core.Sample), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// isKeyframe reads the VP8 frame tag; the P bit is clear on key frames.
func isKeyframe(kind domain.TrackKind, data []byte) bool {
	switch kind {
	case domain.TrackKindAudio:
		return true
	case domain.TrackKindVideo:
		return len(data) > 0 && data[0]&0x01 == 0
	default:
		return false
	}
}
