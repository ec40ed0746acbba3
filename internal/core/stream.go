package core

import (
	"sync"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/google/uuid"
)

// MediaStream is a threadsafe in-memory Stream.
// Remote streams grow as tracks arrive, so tracks can be appended.
type MediaStream struct {
	id string

	mu     sync.RWMutex
	tracks []Track
}

func NewStream(id string, tracks ...Track) *MediaStream {
	if id == "" {
		id = uuid.NewString()
	}
	return &MediaStream{id: id, tracks: tracks}
}

func (s *MediaStream) ID() string { return s.id }

func (s *MediaStream) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

func (s *MediaStream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *MediaStream) TracksOf(kind domain.TrackKind) []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}
