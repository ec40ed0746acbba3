package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/adapters/storage"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/call"
	"github.com/dkeye/peercall/internal/domain"
)

var errRateLimited = errors.New("too many call attempts")

type TargetRequest struct {
	ID string `json:"id"`
}

type ToggleResponse struct {
	Enabled bool `json:"enabled"`
}

type ScreenResponse struct {
	Supported bool `json:"supported"`
	Sharing   bool `json:"sharing"`
}

type RecordingResponse struct {
	Name  string `json:"name"`
	Bytes int    `json:"bytes"`
}

type handlers struct {
	d Deps
}

// statusFor maps operation errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrAlreadyInCall),
		errors.Is(err, domain.ErrAlreadyRecording),
		errors.Is(err, domain.ErrAlreadySharing):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoLocalMedia),
		errors.Is(err, domain.ErrNoRemoteTarget),
		errors.Is(err, call.ErrNotStarted):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrUnreachablePeer):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrUnsupportedPlatform):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrDevice),
		errors.Is(err, domain.ErrTransportInit),
		errors.Is(err, domain.ErrSessionTerminated),
		errors.Is(err, app.ErrNoSession),
		errors.Is(err, call.ErrNoRecorder):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNoIncomingCall),
		errors.Is(err, domain.ErrNotSharing),
		errors.Is(err, storage.ErrNoRecording):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	ev := log.Info()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		ev = log.Error()
	}
	ev.Str("module", "adapters.http").Str("op", op).Int("status", status).Err(err).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

// session resolves the live controller or writes the error response.
func (h *handlers) session(c *gin.Context) (*call.Controller, bool) {
	ctrl, err := h.d.Sessions.Current()
	if err != nil {
		fail(c, "session", err)
		return nil, false
	}
	return ctrl, true
}

func (h *handlers) snapshot() any {
	ctrl, err := h.d.Sessions.Current()
	if err != nil {
		return nil
	}
	return ctrl.Snapshot()
}

func (h *handlers) getSession(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) restart(ctx context.Context, c *gin.Context) {
	ctrl, err := h.d.Sessions.Restart(ctx)
	if err != nil {
		fail(c, "restart", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) acquireMedia(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.AcquireLocalMedia(c.Request.Context()); err != nil {
		fail(c, "acquire_media", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) setTarget(c *gin.Context) {
	var req TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil || domain.PeerID(req.ID).Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid id"})
		return
	}
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	ctrl.SetRemoteTarget(domain.PeerID(req.ID))
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) placeCall(c *gin.Context) {
	if h.d.Limiter != nil && !h.d.Limiter.Allow(c.GetString(clientTokenKey)) {
		fail(c, "place", errRateLimited)
		return
	}
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.PlaceCall(c.Request.Context()); err != nil {
		fail(c, "place", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) acceptCall(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.AcceptIncoming(c.Request.Context()); err != nil {
		fail(c, "accept", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) rejectCall(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.RejectIncoming(); err != nil {
		fail(c, "reject", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) endCall(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	ctrl.EndCall()
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) toggleAudio(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	on, err := ctrl.ToggleAudio()
	if err != nil {
		fail(c, "toggle_audio", err)
		return
	}
	c.JSON(http.StatusOK, ToggleResponse{Enabled: on})
}

func (h *handlers) toggleVideo(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	on, err := ctrl.ToggleVideo()
	if err != nil {
		fail(c, "toggle_video", err)
		return
	}
	c.JSON(http.StatusOK, ToggleResponse{Enabled: on})
}

func (h *handlers) screenSupport(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ScreenResponse{
		Supported: ctrl.IsScreenShareSupported(),
		Sharing:   ctrl.Snapshot().Sharing,
	})
}

func (h *handlers) startScreen(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	// Unsupported platforms never reach the media manager.
	if !ctrl.IsScreenShareSupported() {
		fail(c, "screen_share", domain.ErrUnsupportedPlatform)
		return
	}
	if err := ctrl.StartScreenShare(c.Request.Context()); err != nil {
		fail(c, "screen_share", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) stopScreen(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.StopScreenShare(); err != nil {
		fail(c, "stop_screen_share", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) startRecording(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.StartRecording(); err != nil {
		fail(c, "start_recording", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) stopRecording(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	art, err := ctrl.StopRecording()
	if err != nil {
		fail(c, "stop_recording", err)
		return
	}
	if art == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, RecordingResponse{Name: art.Name, Bytes: art.Size()})
}

func (h *handlers) latestRecording(c *gin.Context) {
	if h.d.Recordings == nil {
		fail(c, "download", storage.ErrNoRecording)
		return
	}
	art, err := h.d.Recordings.Latest()
	if err != nil {
		fail(c, "download", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+art.Name+`"`)
	c.Data(http.StatusOK, art.MIMEType, art.Data)
}
