// Package storage keeps finished recordings on local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// ErrNoRecording is returned by Latest before anything was saved.
var ErrNoRecording = errors.New("no recording saved")

// RecordingStore writes each artifact to dir under its own name, replacing
// the previous one. Only the latest recording is kept.
type RecordingStore struct {
	dir    string
	logger zerolog.Logger

	mu     sync.RWMutex
	latest *domain.Artifact
}

var _ core.ArtifactSink = (*RecordingStore)(nil)

func NewRecordingStore(dir string) (*RecordingStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording dir: %w", err)
	}
	return &RecordingStore{
		dir:    dir,
		logger: log.With().Str("module", "adapters.storage").Str("dir", dir).Logger(),
	}, nil
}

func (s *RecordingStore) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Save writes through a temp file so a reader never sees a partial recording.
func (s *RecordingStore) Save(ctx context.Context, a *domain.Artifact) error {
	if a == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	name := a.Name
	if name == "" {
		name = domain.RecordingFileName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.CreateTemp(s.dir, ".recording-*")
	if err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(a.Data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("save recording: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save recording: %w", err)
	}
	if err := os.Rename(tmp, s.path(name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save recording: %w", err)
	}

	s.latest = a
	s.logger.Info().Str("file", name).Int("bytes", a.Size()).Msg("recording saved")
	return nil
}

// Latest returns the most recent artifact. After a restart it is read back
// from disk.
func (s *RecordingStore) Latest() (*domain.Artifact, error) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest != nil {
		return latest, nil
	}

	p := s.path(domain.RecordingFileName)
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, ErrNoRecording
	}
	if err != nil {
		return nil, err
	}
	stopped := time.Time{}
	if st, err := os.Stat(p); err == nil {
		stopped = st.ModTime()
	}
	return &domain.Artifact{
		Name:      domain.RecordingFileName,
		MIMEType:  domain.RecordingMIMEType,
		Data:      data,
		Chunks:    1,
		StoppedAt: stopped,
	}, nil
}
