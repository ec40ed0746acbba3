package media

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// capturer opens driver-backed tracks. Implementations are per platform.
type capturer interface {
	cameraAndMic(ctx context.Context, c domain.MediaConstraints) ([]*deviceTrack, error)
	screen(ctx context.Context, c domain.ScreenConstraints) ([]*deviceTrack, error)
	screenAvailable() bool
}

// Manager is the core.MediaSource backed by local capture devices.
type Manager struct {
	cap capturer
	// screenOK is resolved once; device enumeration is too slow per snapshot.
	screenOK bool

	mu      sync.Mutex
	streams map[string]*core.MediaStream
}

var _ core.MediaSource = (*Manager)(nil)

func NewManager(cfg config.Media) *Manager {
	return newManager(newPlatformCapturer(), cfg.ScreenShare, runtime.GOOS)
}

func newManager(c capturer, screenEnabled bool, goos string) *Manager {
	return &Manager{
		cap:      c,
		screenOK: screenEnabled && !mobileOS(goos) && c.screenAvailable(),
		streams:  make(map[string]*core.MediaStream),
	}
}

func (m *Manager) AcquireCameraAndMic(ctx context.Context, c domain.MediaConstraints) (core.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewDeviceError("acquire camera", domain.DeviceCancelled, err)
	}
	tracks, err := m.cap.cameraAndMic(ctx, c)
	if err != nil {
		log.Warn().Str("module", "adapters.media").Err(err).Msg("camera and mic unavailable")
		return nil, err
	}
	s := m.register(tracks)
	log.Info().
		Str("module", "adapters.media").
		Str("stream", s.ID()).
		Int("audio", len(s.TracksOf(domain.TrackKindAudio))).
		Int("video", len(s.TracksOf(domain.TrackKindVideo))).
		Msg("camera stream acquired")
	return s, nil
}

func (m *Manager) AcquireScreenCapture(ctx context.Context, c domain.ScreenConstraints) (core.Stream, error) {
	if !m.ScreenShareSupported() {
		return nil, domain.ErrUnsupportedPlatform
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewDeviceError("acquire screen", domain.DeviceCancelled, err)
	}
	tracks, err := m.cap.screen(ctx, c)
	if err != nil {
		log.Warn().Str("module", "adapters.media").Err(err).Msg("screen capture unavailable")
		return nil, err
	}
	s := m.register(tracks)
	log.Info().Str("module", "adapters.media").Str("stream", s.ID()).Msg("screen stream acquired")
	return s, nil
}

func (m *Manager) register(tracks []*deviceTrack) *core.MediaStream {
	s := core.NewStream("")
	for _, t := range tracks {
		s.AddTrack(t)
		t.start()
	}
	m.mu.Lock()
	m.streams[s.ID()] = s
	m.mu.Unlock()
	return s
}

// ReleaseAll stops every track of s. Releasing twice is harmless.
func (m *Manager) ReleaseAll(s core.Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
	m.mu.Lock()
	_, owned := m.streams[s.ID()]
	delete(m.streams, s.ID())
	m.mu.Unlock()
	if owned {
		log.Info().Str("module", "adapters.media").Str("stream", s.ID()).Msg("stream released")
	}
}

// ScreenShareSupported reports the capability found at construction.
func (m *Manager) ScreenShareSupported() bool {
	return m.screenOK
}

// Close releases every stream still held.
func (m *Manager) Close() {
	m.mu.Lock()
	streams := make([]*core.MediaStream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()
	for _, s := range streams {
		m.ReleaseAll(s)
	}
}
