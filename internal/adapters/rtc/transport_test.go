package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// fakeBroker routes frames between registered peers like a PeerJS server.
type fakeBroker struct {
	ids      []string
	idTaken  bool
	silent   bool
	upgrader websocket.Upgrader

	mu    sync.Mutex
	next  int
	peers map[string]*brokerPeer
	seen  []brokerMessage
}

type brokerPeer struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (p *brokerPeer) write(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ws.WriteJSON(v)
}

func newFakeBroker(t *testing.T, ids ...string) (*fakeBroker, *httptest.Server) {
	b := &fakeBroker{ids: ids, peers: make(map[string]*brokerPeer)}
	mux := http.NewServeMux()
	mux.HandleFunc("/peerjs/id", b.handleID)
	mux.HandleFunc("/peerjs", b.handleSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *fakeBroker) handleID(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	id := fmt.Sprintf("peer-%d", b.next)
	if b.next < len(b.ids) {
		id = b.ids[b.next]
	}
	b.next++
	b.mu.Unlock()
	_, _ = w.Write([]byte(id))
}

func (b *fakeBroker) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id := r.URL.Query().Get("id")
	peer := &brokerPeer{ws: ws}
	b.mu.Lock()
	taken := b.idTaken
	b.mu.Unlock()
	if taken {
		peer.write(brokerMessage{Type: msgIDTaken})
		_ = ws.Close()
		return
	}
	b.mu.Lock()
	b.peers[id] = peer
	b.mu.Unlock()
	peer.write(brokerMessage{Type: msgOpen})

	go func() {
		defer ws.Close()
		for {
			var m brokerMessage
			if err := ws.ReadJSON(&m); err != nil {
				return
			}
			b.route(id, peer, m)
		}
	}()
}

func (b *fakeBroker) route(src string, from *brokerPeer, m brokerMessage) {
	b.mu.Lock()
	b.seen = append(b.seen, m)
	dst, ok := b.peers[m.Dst]
	silent := b.silent
	b.mu.Unlock()

	if m.Type == msgHeartbeat || silent {
		return
	}
	if !ok {
		from.write(brokerMessage{Type: msgExpire, Src: m.Dst})
		return
	}
	m.Src = src
	m.Dst = ""
	dst.write(m)
}

func (b *fakeBroker) messages(typ string) []brokerMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []brokerMessage
	for _, m := range b.seen {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func testConfig(brokerURL string) (config.Transport, config.Signal) {
	return config.Transport{
			BrokerURL:   brokerURL,
			Path:        "/",
			Key:         "peerjs",
			OpenTimeout: 2 * time.Second,
			CallTimeout: 5 * time.Second,
			Heartbeat:   50 * time.Millisecond,
		}, config.Signal{
			WriteTimeout: time.Second,
			SendBuffer:   16,
		}
}

func newTestTransport(t *testing.T, srv *httptest.Server, tweak func(*config.Transport)) *Transport {
	t.Helper()
	tc, sc := testConfig(srv.URL)
	if tweak != nil {
		tweak(&tc)
	}
	tr, err := NewTransport(tc, sc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// sampleTrack is a minimal sendable track.
type sampleTrack struct {
	core.Track
	local *webrtc.TrackLocalStaticSample
	kind  domain.TrackKind
}

func (s *sampleTrack) Kind() domain.TrackKind   { return s.kind }
func (s *sampleTrack) ID() string               { return s.local.ID() }
func (s *sampleTrack) Local() webrtc.TrackLocal { return s.local }

func newSampleStream(t *testing.T) core.Stream {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "local")
	require.NoError(t, err)
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", "local")
	require.NoError(t, err)
	return core.NewStream("local",
		&sampleTrack{local: audio, kind: domain.TrackKindAudio},
		&sampleTrack{local: video, kind: domain.TrackKindVideo},
	)
}

func TestOpenAssignsIdentity(t *testing.T) {
	_, srv := newFakeBroker(t, "peer-42")
	tr := newTestTransport(t, srv, nil)

	id, err := tr.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("peer-42"), id)

	_, err = tr.Open(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestOpenIDTakenIsInitFailure(t *testing.T) {
	b, srv := newFakeBroker(t, "peer-42")
	b.mu.Lock()
	b.idTaken = true
	b.mu.Unlock()
	tr := newTestTransport(t, srv, nil)

	_, err := tr.Open(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransportInit)
}

func TestOpenUnreachableBrokerIsInitFailure(t *testing.T) {
	_, srv := newFakeBroker(t)
	tr := newTestTransport(t, srv, func(c *config.Transport) {
		c.BrokerURL = "http://127.0.0.1:1"
	})

	_, err := tr.Open(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransportInit)
}

func TestPlaceRequiresLocalMedia(t *testing.T) {
	_, srv := newFakeBroker(t, "peer-42")
	tr := newTestTransport(t, srv, nil)
	_, err := tr.Open(context.Background())
	require.NoError(t, err)

	_, err = tr.Place(context.Background(), "peer-7", nil)
	assert.ErrorIs(t, err, domain.ErrNoLocalMedia)
	_, err = tr.Place(context.Background(), "peer-7", core.NewStream("empty"))
	assert.ErrorIs(t, err, domain.ErrNoLocalMedia)
}

func TestPlaceExpiredDestinationIsUnreachable(t *testing.T) {
	b, srv := newFakeBroker(t, "peer-42")
	tr := newTestTransport(t, srv, nil)
	_, err := tr.Open(context.Background())
	require.NoError(t, err)

	_, err = tr.Place(context.Background(), "nobody", newSampleStream(t))
	assert.ErrorIs(t, err, domain.ErrUnreachablePeer)

	offers := b.messages(msgOffer)
	require.Len(t, offers, 1)
	var p sdpPayload
	require.NoError(t, json.Unmarshal(offers[0].Payload, &p))
	assert.Equal(t, connectionTypeMedia, p.Type)
	assert.True(t, strings.HasPrefix(p.ConnectionID, "mc_"))
	assert.Equal(t, webrtc.SDPTypeOffer, p.SDP.Type)
}

func TestPlaceTimesOutAsUnreachable(t *testing.T) {
	b, srv := newFakeBroker(t, "peer-42")
	b.mu.Lock()
	b.silent = true
	b.mu.Unlock()
	tr := newTestTransport(t, srv, func(c *config.Transport) {
		c.CallTimeout = 200 * time.Millisecond
	})
	_, err := tr.Open(context.Background())
	require.NoError(t, err)

	_, err = tr.Place(context.Background(), "peer-7", newSampleStream(t))
	assert.ErrorIs(t, err, domain.ErrUnreachablePeer)
}

func TestPlaceAndAnswerThroughBroker(t *testing.T) {
	_, srv := newFakeBroker(t, "peer-42", "peer-7")
	caller := newTestTransport(t, srv, nil)
	callee := newTestTransport(t, srv, nil)

	_, err := caller.Open(context.Background())
	require.NoError(t, err)
	calleeID, err := callee.Open(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.PeerID("peer-7"), calleeID)

	answered := make(chan core.ActiveCall, 1)
	callee.OnIncomingCall(func(p core.PendingCall) {
		assert.Equal(t, domain.PeerID("peer-42"), p.RemoteID())
		call, err := p.Answer(context.Background(), newSampleStream(t))
		if assert.NoError(t, err) {
			answered <- call
		}
	})

	call, err := caller.Place(context.Background(), calleeID, newSampleStream(t))
	require.NoError(t, err)
	assert.Equal(t, calleeID, call.RemoteID())

	senders := call.Senders()
	require.Len(t, senders, 2)
	kinds := map[domain.TrackKind]bool{}
	for _, s := range senders {
		k, ok := s.Kind()
		require.True(t, ok)
		kinds[k] = true
	}
	assert.True(t, kinds[domain.TrackKindAudio])
	assert.True(t, kinds[domain.TrackKindVideo])

	select {
	case <-answered:
	case <-time.After(5 * time.Second):
		t.Fatal("callee never answered")
	}

	closed := make(chan struct{})
	call.OnClosed(func() { close(closed) })
	require.NoError(t, call.Close())
	require.NoError(t, call.Close())
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("OnClosed did not fire")
	}
}

func TestRejectedIncomingCallCannotBeAnswered(t *testing.T) {
	_, srv := newFakeBroker(t, "peer-42", "peer-7")
	caller := newTestTransport(t, srv, func(c *config.Transport) {
		c.CallTimeout = 300 * time.Millisecond
	})
	callee := newTestTransport(t, srv, nil)
	_, err := caller.Open(context.Background())
	require.NoError(t, err)
	calleeID, err := callee.Open(context.Background())
	require.NoError(t, err)

	rejected := make(chan error, 1)
	callee.OnIncomingCall(func(p core.PendingCall) {
		p.Reject()
		_, err := p.Answer(context.Background(), newSampleStream(t))
		rejected <- err
	})

	_, err = caller.Place(context.Background(), calleeID, newSampleStream(t))
	assert.ErrorIs(t, err, domain.ErrUnreachablePeer)
	assert.ErrorIs(t, <-rejected, domain.ErrNoIncomingCall)
}

func TestCallerLeavingCancelsHeldOffer(t *testing.T) {
	_, srv := newFakeBroker(t, "peer-42", "peer-7")
	caller := newTestTransport(t, srv, func(c *config.Transport) {
		c.CallTimeout = 300 * time.Millisecond
	})
	callee := newTestTransport(t, srv, nil)
	callerID, err := caller.Open(context.Background())
	require.NoError(t, err)
	calleeID, err := callee.Open(context.Background())
	require.NoError(t, err)

	held := make(chan core.PendingCall, 1)
	callee.OnIncomingCall(func(p core.PendingCall) { held <- p })

	placed := make(chan error, 1)
	go func() {
		_, err := caller.Place(context.Background(), calleeID, newSampleStream(t))
		placed <- err
	}()

	var p core.PendingCall
	select {
	case p = <-held:
	case <-time.After(2 * time.Second):
		t.Fatal("offer never arrived")
	}
	cancelled := make(chan struct{})
	p.OnCancelled(func() { close(cancelled) })

	callee.handleLeave(callerID)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("OnCancelled did not fire")
	}

	_, err = p.Answer(context.Background(), newSampleStream(t))
	assert.ErrorIs(t, err, domain.ErrNoIncomingCall)

	late := false
	p.OnCancelled(func() { late = true })
	assert.True(t, late, "late handler fires immediately")

	callee.mu.Lock()
	assert.Empty(t, callee.pending)
	callee.mu.Unlock()
	assert.ErrorIs(t, <-placed, domain.ErrUnreachablePeer)
}

func TestBrokerEndpointURLs(t *testing.T) {
	e, err := newBrokerEndpoint("https://broker.example:9000", "app", "peerjs")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(e.idURL(), "https://broker.example:9000/app/peerjs/id?ts="))
	assert.Equal(t, "wss://broker.example:9000/app/peerjs?id=abc&key=peerjs&token=tok", e.socketURL("abc", "tok"))

	_, err = newBrokerEndpoint("ftp://broker", "/", "peerjs")
	assert.Error(t, err)
}
