// Package call drives one two-party call session: local media, the peer
// transport, screen share and recording.
package call

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var ErrNotStarted = errors.New("session not started")

// Recorder is the slice of the recorder the controller drives.
type Recorder interface {
	Start(s core.Stream) error
	Stop() (*domain.Artifact, error)
	State() domain.RecordingState
}

type Deps struct {
	Media     core.MediaSource
	Transport core.PeerTransport
	Signaling core.Signaling
	Local     core.DisplaySurface
	Remote    core.DisplaySurface
	Recorder  Recorder
	Events    core.Publisher
}

type Options struct {
	Media      domain.MediaConstraints
	Screen     domain.ScreenConstraints
	AutoAnswer bool
}

// Controller owns identity, target, call state and the local stream references.
//
// mu guards the fields below it. opMu serializes every mutation of the
// local-active stream (acquire, toggle, share start and revert) and is
// always taken before mu.
type Controller struct {
	media     core.MediaSource
	transport core.PeerTransport
	signaling core.Signaling
	local     core.DisplaySurface
	remote    core.DisplaySurface
	recorder  Recorder
	events    core.Publisher
	opts      Options
	logger    zerolog.Logger

	opMu sync.Mutex

	mu            sync.Mutex
	state         domain.CallState
	identity      domain.PeerID
	target        domain.PeerID
	localActive   core.Stream
	localOriginal core.Stream
	screen        core.Stream
	call          core.ActiveCall
	pending       core.PendingCall
	started       bool
	ended         bool
	failed        error
	// gen changes on EndCall so in-flight work can tell it lost the session.
	gen uint64
}

func NewController(d Deps, opts Options) *Controller {
	events := d.Events
	if events == nil {
		events = core.PublisherFunc(func(any) {})
	}
	return &Controller{
		media:     d.Media,
		transport: d.Transport,
		signaling: d.Signaling,
		local:     d.Local,
		remote:    d.Remote,
		recorder:  d.Recorder,
		events:    events,
		opts:      opts,
		logger:    log.With().Str("module", "app.call").Logger(),
		state:     domain.CallStateIdle,
	}
}

// Snapshot is the presentation view of the session.
type Snapshot struct {
	State                string `json:"state"`
	Identity             string `json:"identity,omitempty"`
	Target               string `json:"target,omitempty"`
	Remote               string `json:"remote,omitempty"`
	Incoming             string `json:"incoming,omitempty"`
	HasLocalMedia        bool   `json:"has_local_media"`
	AudioEnabled         bool   `json:"audio_enabled"`
	VideoEnabled         bool   `json:"video_enabled"`
	Sharing              bool   `json:"sharing"`
	Recording            bool   `json:"recording"`
	ScreenShareSupported bool   `json:"screen_share_supported"`
	Terminated           bool   `json:"terminated"`
}

type StateEvent struct {
	Type    string   `json:"type"`
	Session Snapshot `json:"session"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Op    string `json:"op"`
	Error string `json:"error"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		State:         c.state.String(),
		Identity:      c.identity.String(),
		Target:        c.target.String(),
		HasLocalMedia: c.localActive != nil,
		Sharing:       c.screen != nil,
		Terminated:    c.terminatedLocked(),
	}
	if c.call != nil {
		s.Remote = c.call.RemoteID().String()
	}
	if c.pending != nil {
		s.Incoming = c.pending.RemoteID().String()
	}
	active := c.localActive
	c.mu.Unlock()

	if t := core.FirstTrack(active, domain.TrackKindAudio); t != nil {
		s.AudioEnabled = t.Enabled()
	}
	if t := core.FirstTrack(active, domain.TrackKindVideo); t != nil {
		s.VideoEnabled = t.Enabled()
	}
	if c.recorder != nil {
		s.Recording = c.recorder.State() == domain.RecordingActive
	}
	s.ScreenShareSupported = c.IsScreenShareSupported()
	return s
}

func (c *Controller) State() domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) LocalIdentity() domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Controller) RemoteTarget() domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// SetRemoteTarget stores the id the next PlaceCall dials. It is not validated.
func (c *Controller) SetRemoteTarget(id domain.PeerID) {
	c.mu.Lock()
	c.target = id
	c.mu.Unlock()
	c.logger.Info().Str("target", id.String()).Msg("remote target set")
	c.publishState()
}

// LocalActive is the stream currently shown on the local surface.
func (c *Controller) LocalActive() core.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localActive
}

func (c *Controller) IsScreenShareSupported() bool {
	return c.media != nil && c.media.ScreenShareSupported()
}

func (c *Controller) terminatedLocked() bool {
	return c.ended || c.failed != nil
}

func (c *Controller) publishState() {
	c.events.Publish(StateEvent{Type: "state", Session: c.Snapshot()})
}

func (c *Controller) publishError(op string, err error) {
	c.logger.Warn().Str("op", op).Err(err).Msg("operation failed")
	c.events.Publish(ErrorEvent{Type: "error", Op: op, Error: err.Error()})
}
