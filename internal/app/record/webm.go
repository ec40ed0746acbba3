package record

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var errEncoderClosed = errors.New("encoder closed")

// Encoder turns samples into container bytes written to the sink it was built with.
type Encoder interface {
	WriteSample(s core.Sample, elapsed time.Duration) error
	// Close finalizes the container. No writes to the sink happen after it returns.
	Close() error
}

// EncoderFactory builds an encoder for the given kinds writing to w.
type EncoderFactory func(w io.Writer, kinds []domain.TrackKind) (Encoder, error)

// WebM returns the default factory: VP8 video and Opus audio in a WebM file.
func WebM(width, height int) EncoderFactory {
	return func(w io.Writer, kinds []domain.TrackKind) (Encoder, error) {
		return newWebMEncoder(w, kinds, width, height)
	}
}

type webmEncoder struct {
	writers map[domain.TrackKind]webm.BlockWriteCloser
	order   []webm.BlockWriteCloser
	out     *closeNotifier
	// sawKey gates video until the first key frame.
	sawKey bool
	closed bool
}

// closeNotifier lets Close wait until the muxer goroutine has let go of w.
type closeNotifier struct {
	w      io.Writer
	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func (c *closeNotifier) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Write(p)
}

func (c *closeNotifier) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func newWebMEncoder(w io.Writer, kinds []domain.TrackKind, width, height int) (*webmEncoder, error) {
	var hasAudio, hasVideo bool
	for _, k := range kinds {
		switch k {
		case domain.TrackKindAudio:
			hasAudio = true
		case domain.TrackKindVideo:
			hasVideo = true
		}
	}
	if !hasAudio && !hasVideo {
		return nil, errors.New("no tracks to record")
	}

	var (
		entries []webm.TrackEntry
		owners  []domain.TrackKind
	)
	if hasVideo {
		entries = append(entries, webm.TrackEntry{
			Name:        "Video",
			TrackNumber: uint64(len(entries) + 1),
			TrackUID:    uint64(len(entries) + 1),
			CodecID:     "V_VP8",
			TrackType:   1,
			Video: &webm.Video{
				PixelWidth:  uint64(width),
				PixelHeight: uint64(height),
			},
		})
		owners = append(owners, domain.TrackKindVideo)
	}
	if hasAudio {
		entries = append(entries, webm.TrackEntry{
			Name:        "Audio",
			TrackNumber: uint64(len(entries) + 1),
			TrackUID:    uint64(len(entries) + 1),
			CodecID:     "A_OPUS",
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          2,
			},
		})
		owners = append(owners, domain.TrackKindAudio)
	}

	out := &closeNotifier{w: w, closed: make(chan struct{})}
	writers, err := webm.NewSimpleBlockWriter(out, entries, mkvcore.WithOnFatalHandler(func(err error) {
		log.Error().Err(err).Str("module", "app.record").Msg("webm muxer failed")
	}))
	if err != nil {
		return nil, err
	}
	enc := &webmEncoder{writers: make(map[domain.TrackKind]webm.BlockWriteCloser), order: writers, out: out}
	for i, k := range owners {
		enc.writers[k] = writers[i]
	}
	return enc, nil
}

func (e *webmEncoder) WriteSample(s core.Sample, elapsed time.Duration) error {
	if e.closed {
		return errEncoderClosed
	}
	w, ok := e.writers[s.Kind]
	if !ok || len(s.Data) == 0 {
		return nil
	}
	if s.Kind == domain.TrackKindVideo && !e.sawKey {
		if !s.Keyframe {
			return nil
		}
		e.sawKey = true
	}
	_, err := w.Write(s.Keyframe, elapsed.Milliseconds(), s.Data)
	return err
}

func (e *webmEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	for _, w := range e.order {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	select {
	case <-e.out.closed:
	case <-time.After(2 * time.Second):
		errs = append(errs, errors.New("webm muxer did not finish"))
	}
	return errors.Join(errs...)
}
