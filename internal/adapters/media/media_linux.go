//go:build linux

package media

import (
	"context"
	"errors"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/driver"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/domain"
)

type deviceCapturer struct{}

func newPlatformCapturer() capturer { return deviceCapturer{} }

func codecSelector(videoBitRate int) (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	if videoBitRate > 0 {
		vpxParams.BitRate = videoBitRate
	}
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func (deviceCapturer) cameraAndMic(ctx context.Context, c domain.MediaConstraints) ([]*deviceTrack, error) {
	const op = "acquire camera"
	selector, err := codecSelector(c.VideoBitRate)
	if err != nil {
		return nil, domain.NewDeviceError(op, domain.DeviceCaptureUnsupported, err)
	}

	logger := log.With().Str("module", "adapters.media").Logger()
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		logger.Debug().
			Bool("echo_cancellation", c.EchoCancellation).
			Bool("noise_suppression", c.NoiseSuppression).
			Bool("auto_gain_control", c.AutoGainControl).
			Msg("audio processing left to the capture driver")
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, domain.NewDeviceError(op, domain.DeviceNoDevice, nil)
	}

	type attempt struct {
		video, audio bool
		label        string
	}
	var lastErr error
	for _, a := range []attempt{
		{c.Video, c.Audio, "video+audio"},
		{c.Video, false, "video-only"},
		{false, c.Audio, "audio-only"},
	} {
		if !a.video && !a.audio {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, domain.NewDeviceError(op, domain.DeviceCancelled, err)
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				// MJPEG nodes on some webcams feed corrupt frames to the encoder.
				mc.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				mc.Width = prop.IntRanged{Max: c.Width}
				mc.Height = prop.IntRanged{Max: c.Height}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Warn().Str("attempt", a.label).Err(err).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}
		tracks, err := wrapTracks(stream.GetTracks())
		if err != nil {
			logger.Warn().Str("attempt", a.label).Err(err).Msg("track unusable, trying next attempt")
			lastErr = err
			continue
		}
		logger.Info().Str("attempt", a.label).Int("tracks", len(tracks)).Msg("local media captured")
		return tracks, nil
	}
	return nil, domain.NewDeviceError(op, classify(lastErr), lastErr)
}

func (deviceCapturer) screen(ctx context.Context, c domain.ScreenConstraints) ([]*deviceTrack, error) {
	const op = "acquire screen"
	selector, err := codecSelector(c.VideoBitRate)
	if err != nil {
		return nil, domain.NewDeviceError(op, domain.DeviceCaptureUnsupported, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewDeviceError(op, domain.DeviceCancelled, err)
	}
	logger := log.With().Str("module", "adapters.media").Logger()
	if c.Audio {
		// The screen driver has no loopback audio; the call keeps its microphone.
		logger.Debug().Int("sample_rate", c.SampleRate).Msg("screen audio not captured")
	}

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: selector,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, domain.NewDeviceError(op, domain.DeviceCancelled, err)
		}
		return nil, domain.NewDeviceError(op, domain.DeviceCaptureUnsupported, err)
	}
	tracks, err := wrapTracks(stream.GetTracks())
	if err != nil {
		return nil, domain.NewDeviceError(op, domain.DeviceCaptureUnsupported, err)
	}
	logger.Info().Bool("cursor", c.Cursor).Msg("screen captured")
	return tracks, nil
}

func (deviceCapturer) screenAvailable() bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.DeviceType == driver.Screen {
			return true
		}
	}
	return false
}

// wrapTracks turns driver tracks into pumped device tracks. On any failure
// every driver track is closed.
func wrapTracks(src []mediadevices.Track) ([]*deviceTrack, error) {
	closeAll := func() {
		for _, t := range src {
			_ = t.Close()
		}
	}
	streamID := "local"
	out := make([]*deviceTrack, 0, len(src))
	for _, t := range src {
		var (
			kind domain.TrackKind
			mime string
		)
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			kind, mime = domain.TrackKindAudio, webrtc.MimeTypeOpus
		case webrtc.RTPCodecTypeVideo:
			kind, mime = domain.TrackKindVideo, webrtc.MimeTypeVP8
		default:
			continue
		}
		r, err := t.NewEncodedReader(mime)
		if err != nil {
			closeAll()
			return nil, err
		}
		dt, err := newDeviceTrack(kind, streamID, r, t.Close)
		if err != nil {
			_ = r.Close()
			closeAll()
			return nil, err
		}
		t.OnEnded(func(err error) {
			if err != nil {
				dt.finish(err)
			}
		})
		out = append(out, dt)
	}
	if len(out) == 0 {
		closeAll()
		return nil, errors.New("no usable tracks")
	}
	return out, nil
}

func classify(err error) domain.DeviceFailure {
	if err == nil {
		return domain.DeviceNoDevice
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"):
		return domain.DevicePermissionDenied
	default:
		return domain.DeviceNoDevice
	}
}
