// Package record captures the local stream into a downloadable artifact.
package record

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// chunkBuffer collects data-available chunks in arrival order.
type chunkBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (b *chunkBuffer) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	return len(p), nil
}

// take returns the chunks and empties the buffer.
func (b *chunkBuffer) take() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.chunks
	b.chunks = nil
	return out
}

type session struct {
	samples chan core.Sample
	stop    chan struct{}
	done    chan struct{}
	cancels []func()
	buf     *chunkBuffer
	started time.Time
	dropped atomic.Int64
}

// Recorder records one stream at a time.
type Recorder struct {
	factory EncoderFactory
	sink    core.ArtifactSink
	queue   int
	logger  zerolog.Logger

	mu  sync.Mutex
	run *session
}

func NewRecorder(factory EncoderFactory, sink core.ArtifactSink, queue int) *Recorder {
	if queue <= 0 {
		queue = 256
	}
	return &Recorder{
		factory: factory,
		sink:    sink,
		queue:   queue,
		logger:  log.With().Str("module", "app.record").Logger(),
	}
}

func (r *Recorder) State() domain.RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != nil {
		return domain.RecordingActive
	}
	return domain.RecordingStopped
}

// Start records the tracks s has right now. Tracks added later are not recorded.
func (r *Recorder) Start(s core.Stream) error {
	if s == nil {
		return domain.ErrNoLocalMedia
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != nil {
		return domain.ErrAlreadyRecording
	}

	tracks := s.Tracks()
	kinds := make([]domain.TrackKind, 0, len(tracks))
	for _, t := range tracks {
		kinds = append(kinds, t.Kind())
	}
	buf := &chunkBuffer{}
	enc, err := r.factory(buf, kinds)
	if err != nil {
		return err
	}

	run := &session{
		samples: make(chan core.Sample, r.queue),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		buf:     buf,
		started: time.Now(),
	}
	for _, t := range tracks {
		run.cancels = append(run.cancels, t.Subscribe(func(smp core.Sample) {
			select {
			case run.samples <- smp:
			default:
				run.dropped.Add(1)
			}
		}))
	}
	r.run = run
	go r.loop(run, enc)

	r.logger.Info().Str("stream", s.ID()).Int("tracks", len(tracks)).Msg("recording started")
	return nil
}

// loop is the only goroutine that drives the encoder.
func (r *Recorder) loop(run *session, enc Encoder) {
	defer close(run.done)
	write := func(s core.Sample) {
		if err := enc.WriteSample(s, s.Timestamp.Sub(run.started)); err != nil {
			r.logger.Debug().Err(err).Msg("sample not recorded")
		}
	}
	for {
		select {
		case s := <-run.samples:
			write(s)
		case <-run.stop:
			for {
				select {
				case s := <-run.samples:
					write(s)
				default:
					if err := enc.Close(); err != nil {
						r.logger.Warn().Err(err).Msg("finalize container")
					}
					return
				}
			}
		}
	}
}

// Stop finalizes the recording and hands the artifact to the sink.
// Stopping while idle returns (nil, nil).
func (r *Recorder) Stop() (*domain.Artifact, error) {
	r.mu.Lock()
	run := r.run
	r.run = nil
	r.mu.Unlock()
	if run == nil {
		return nil, nil
	}

	for _, cancel := range run.cancels {
		cancel()
	}
	close(run.stop)
	<-run.done

	chunks := run.buf.take()
	artifact := &domain.Artifact{
		Name:      domain.RecordingFileName,
		MIMEType:  domain.RecordingMIMEType,
		Data:      bytes.Join(chunks, nil),
		Chunks:    len(chunks),
		StartedAt: run.started,
		StoppedAt: time.Now(),
	}
	r.logger.Info().
		Int("bytes", artifact.Size()).
		Int("chunks", artifact.Chunks).
		Int64("dropped", run.dropped.Load()).
		Msg("recording stopped")

	if r.sink != nil {
		if err := r.sink.Save(context.Background(), artifact); err != nil {
			return artifact, err
		}
	}
	return artifact, nil
}
