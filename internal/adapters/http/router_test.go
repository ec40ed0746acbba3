package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/peercall/internal/adapters/signal"
	"github.com/dkeye/peercall/internal/adapters/storage"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/call"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

type nopTransport struct{}

func (nopTransport) Open(context.Context) (domain.PeerID, error) { return "peer-42", nil }
func (nopTransport) OnIncomingCall(func(core.PendingCall))       {}
func (nopTransport) Place(context.Context, domain.PeerID, core.Stream) (core.ActiveCall, error) {
	return nil, domain.ErrUnreachablePeer
}
func (nopTransport) Close() error { return nil }

type nopSignaling struct{}

func (nopSignaling) Announce(domain.PeerID) error { return nil }
func (nopSignaling) NotifyLeaving() error         { return nil }

type nopSurface struct{}

func (nopSurface) Name() string       { return "nop" }
func (nopSurface) Bind(core.Stream)   {}
func (nopSurface) Bound() core.Stream { return nil }

// noCamera reports no devices and no screen capture.
type noCamera struct{}

func (noCamera) AcquireCameraAndMic(context.Context, domain.MediaConstraints) (core.Stream, error) {
	return nil, domain.NewDeviceError("camera", domain.DeviceNoDevice, nil)
}

func (noCamera) AcquireScreenCapture(context.Context, domain.ScreenConstraints) (core.Stream, error) {
	panic("screen capture must not be requested")
}
func (noCamera) ReleaseAll(core.Stream)     {}
func (noCamera) ScreenShareSupported() bool { return false }

func testConfig() *config.Config {
	return &config.Config{
		Mode:       "test",
		Secret:     "test-secret",
		ReadLimit:  4096,
		PingPeriod: time.Second,
		API:        config.API{WatcherBuffer: 8},
	}
}

type testEnv struct {
	router *httptest.Server
	store  *storage.RecordingStore
	hub    core.WatcherHub
}

func newTestEnv(t *testing.T, start bool) *testEnv {
	t.Helper()
	holder := app.NewSessionHolder(func() (*call.Controller, error) {
		return call.NewController(call.Deps{
			Media:     noCamera{},
			Transport: nopTransport{},
			Signaling: nopSignaling{},
			Local:     nopSurface{},
			Remote:    nopSurface{},
		}, call.Options{AutoAnswer: true}), nil
	})
	if start {
		_, err := holder.Restart(context.Background())
		require.NoError(t, err)
	}
	store, err := storage.NewRecordingStore(t.TempDir())
	require.NoError(t, err)
	hub := core.NewWatcherHub()

	r := SetupRouter(context.Background(), testConfig(), Deps{
		Sessions:   holder,
		Recordings: store,
		Hub:        hub,
		Limiter:    signal.NewCallRateLimiter(1, time.Minute),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	// The rate limiter keys on the client token, so keep the session cookie.
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	srv.Client().Jar = jar
	return &testEnv{router: srv, store: store, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.router.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.router.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestSessionSnapshot(t *testing.T) {
	env := newTestEnv(t, true)
	resp := env.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap call.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "peer-42", snap.Identity)
	assert.Equal(t, "idle", snap.State)

	var found bool
	for _, ck := range resp.Cookies() {
		found = found || ck.Name == "PeercallSession"
	}
	assert.True(t, found, "session cookie set")
}

func TestNoSessionIsUnavailable(t *testing.T) {
	env := newTestEnv(t, false)
	resp := env.do(t, http.MethodGet, "/api/session", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/session/restart", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/session", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeviceErrorMapsToUnavailable(t *testing.T) {
	env := newTestEnv(t, true)
	resp := env.do(t, http.MethodPost, "/api/media", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp), "no device")
}

func TestSetTargetValidation(t *testing.T) {
	env := newTestEnv(t, true)
	resp := env.do(t, http.MethodPut, "/api/target", `{"id":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/target", `{"id":"peer-7"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap call.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "peer-7", snap.Target)
}

func TestPlaceCallIsRateLimited(t *testing.T) {
	env := newTestEnv(t, true)
	env.do(t, http.MethodPut, "/api/target", `{"id":"peer-7"}`)

	resp := env.do(t, http.MethodPost, "/api/call", "")
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, domain.ErrNoLocalMedia.Error(), decodeError(t, resp))

	resp = env.do(t, http.MethodPost, "/api/call", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestScreenShareUnsupported(t *testing.T) {
	env := newTestEnv(t, true)
	resp := env.do(t, http.MethodGet, "/api/screen", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sr ScreenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	assert.False(t, sr.Supported)

	resp = env.do(t, http.MethodPost, "/api/screen", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/screen", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestManualAnswerWithoutIncoming(t *testing.T) {
	env := newTestEnv(t, true)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/call/accept", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/call/reject", "").StatusCode)
}

func TestEndCallTwice(t *testing.T) {
	env := newTestEnv(t, true)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/call", "").StatusCode)
	resp := env.do(t, http.MethodDelete, "/api/call", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap call.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.True(t, snap.Terminated)
	assert.Empty(t, snap.Identity)
}

func TestRecordingEndpoints(t *testing.T) {
	env := newTestEnv(t, true)
	assert.Equal(t, http.StatusPreconditionFailed, env.do(t, http.MethodPost, "/api/recording", "").StatusCode)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/recording", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/recordings/latest", "").StatusCode)

	require.NoError(t, env.store.Save(context.Background(), &domain.Artifact{
		Name:     domain.RecordingFileName,
		MIMEType: domain.RecordingMIMEType,
		Data:     []byte("webm-bytes"),
	}))
	resp := env.do(t, http.MethodGet, "/api/recordings/latest", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.RecordingMIMEType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), domain.RecordingFileName)
}

func TestEventsWebsocketSendsSnapshot(t *testing.T) {
	env := newTestEnv(t, true)
	url := "ws" + strings.TrimPrefix(env.router.URL, "http") + "/api/ws/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string        `json:"type"`
		Session call.Snapshot `json:"session"`
	}
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "state", msg.Type)
	assert.Equal(t, "peer-42", msg.Session.Identity)
	assert.Eventually(t, func() bool { return env.hub.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestStatusMapping(t *testing.T) {
	cases := map[error]int{
		domain.ErrAlreadyInCall:       http.StatusConflict,
		domain.ErrAlreadyRecording:    http.StatusConflict,
		domain.ErrAlreadySharing:      http.StatusConflict,
		domain.ErrNoRemoteTarget:      http.StatusPreconditionFailed,
		domain.ErrUnreachablePeer:     http.StatusGatewayTimeout,
		domain.ErrUnsupportedPlatform: http.StatusNotImplemented,
		domain.ErrTransportInit:       http.StatusServiceUnavailable,
		domain.ErrSessionTerminated:   http.StatusServiceUnavailable,
		errRateLimited:                http.StatusTooManyRequests,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
	assert.Equal(t, http.StatusServiceUnavailable,
		statusFor(domain.NewDeviceError("mic", domain.DevicePermissionDenied, nil)))
}
