package rtc

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/rs/zerolog"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

type subState int32

const (
	subStateOk subState = iota
	subStateDelete
)

// outSub is one consumer of a relayed remote track.
type outSub struct {
	fn    func(core.Sample)
	state atomic.Int32
}

func (s *outSub) markDelete() { s.state.Store(int32(subStateDelete)) }

// Relay reads a remote RTP track, rebuilds encoded frames and forwards
// them to subscribers. It is the core.Track view of remote media.
type Relay struct {
	Src  *webrtc.TrackRemote
	kind domain.TrackKind

	enabled atomic.Bool

	mu      sync.RWMutex
	subs    map[int]*outSub
	nextSub int
	ended   bool
	onEnded []func()

	cancel context.CancelFunc
	logger zerolog.Logger
}

func kindOf(t webrtc.RTPCodecType) (domain.TrackKind, bool) {
	switch t {
	case webrtc.RTPCodecTypeAudio:
		return domain.TrackKindAudio, true
	case webrtc.RTPCodecTypeVideo:
		return domain.TrackKindVideo, true
	default:
		return 0, false
	}
}

func newRelay(src *webrtc.TrackRemote, kind domain.TrackKind, cancel context.CancelFunc, logger zerolog.Logger) *Relay {
	r := &Relay{
		Src:    src,
		kind:   kind,
		subs:   make(map[int]*outSub),
		cancel: cancel,
		logger: logger.With().Str("track_id", src.ID()).Str("kind", kind.String()).Logger(),
	}
	r.enabled.Store(true)
	return r
}

func newSampleBuilder(kind domain.TrackKind, clockRate uint32) *samplebuilder.SampleBuilder {
	switch kind {
	case domain.TrackKindAudio:
		return samplebuilder.New(10, &codecs.OpusPacket{}, clockRate)
	case domain.TrackKindVideo:
		return samplebuilder.New(128, &codecs.VP8Packet{}, clockRate)
	default:
		panic("rtc: unknown track kind " + kind.String())
	}
}

// loop reads RTP packets from the source track until ctx ends or the read fails.
func (r *Relay) loop(ctx context.Context) {
	defer r.finish()
	sb := newSampleBuilder(r.kind, r.Src.Codec().ClockRate)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			r.logger.Info().Err(err).Msg("relay read RTP stopped")
			return
		}
		r.push(sb, pkt)
	}
}

func (r *Relay) push(sb *samplebuilder.SampleBuilder, pkt *rtp.Packet) {
	sb.Push(pkt)
	for s := sb.Pop(); s != nil; s = sb.Pop() {
		if !r.enabled.Load() {
			continue
		}
		r.forward(core.Sample{
			Kind:      r.kind,
			Data:      s.Data,
			Keyframe:  r.kind == domain.TrackKindAudio || (len(s.Data) > 0 && s.Data[0]&0x01 == 0),
			Timestamp: time.Now(),
			Duration:  s.Duration,
		})
	}
}

func (r *Relay) forward(s core.Sample) {
	r.mu.RLock()
	snapshot := make(map[int]*outSub, len(r.subs))
	maps.Copy(snapshot, r.subs)
	r.mu.RUnlock()

	dirty := make([]int, 0)
	for id, sub := range snapshot {
		if subState(sub.state.Load()) == subStateDelete {
			dirty = append(dirty, id)
			continue
		}
		sub.fn(s)
	}
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		delete(r.subs, id)
	}
}

func (r *Relay) finish() {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	for _, sub := range r.subs {
		sub.markDelete()
	}
	handlers := r.onEnded
	r.onEnded = nil
	r.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (r *Relay) ID() string             { return r.Src.ID() }
func (r *Relay) Kind() domain.TrackKind { return r.kind }
func (r *Relay) Enabled() bool          { return r.enabled.Load() }

// SetEnabled mutes the relay locally; packets are still read.
func (r *Relay) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

func (r *Relay) Ended() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ended
}

func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Relay) OnEnded(fn func()) {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		fn()
		return
	}
	r.onEnded = append(r.onEnded, fn)
	r.mu.Unlock()
}

func (r *Relay) Subscribe(fn func(core.Sample)) func() {
	sub := &outSub{fn: fn}
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = sub
	r.mu.Unlock()
	return sub.markDelete
}
