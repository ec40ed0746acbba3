// Package display keeps track of which stream each view shows and tells
// watchers when that changes.
package display

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
)

const (
	Local  = "local"
	Remote = "remote"
)

// Event is published on every bind.
type Event struct {
	Type    string   `json:"type"`
	Surface string   `json:"surface"`
	Stream  string   `json:"stream,omitempty"`
	Tracks  []string `json:"tracks"`
}

// Surface binds exactly one stream at a time.
type Surface struct {
	name string
	pub  core.Publisher

	mu    sync.RWMutex
	bound core.Stream
}

var _ core.DisplaySurface = (*Surface)(nil)

func NewSurface(name string, pub core.Publisher) *Surface {
	return &Surface{name: name, pub: pub}
}

func (s *Surface) Name() string { return s.name }

// Bind replaces the shown stream; nil clears the surface.
func (s *Surface) Bind(stream core.Stream) {
	s.mu.Lock()
	s.bound = stream
	s.mu.Unlock()

	ev := Event{Type: "display", Surface: s.name, Tracks: []string{}}
	if stream != nil {
		ev.Stream = stream.ID()
		for _, t := range stream.Tracks() {
			ev.Tracks = append(ev.Tracks, t.Kind().String()+":"+t.ID())
		}
	}
	log.Debug().Str("module", "adapters.display").Str("surface", s.name).Str("stream", ev.Stream).Msg("bind")
	if s.pub != nil {
		s.pub.Publish(ev)
	}
}

func (s *Surface) Bound() core.Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound
}
