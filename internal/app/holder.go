// Package app wires call sessions to the outside: it owns the current
// controller and pushes session events to watchers.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/app/call"
)

var ErrNoSession = errors.New("no session")

// ControllerFactory builds a fresh, unstarted controller.
type ControllerFactory func() (*call.Controller, error)

// SessionHolder keeps the one live controller. A controller that failed to
// start or was ended is replaced through Restart.
type SessionHolder struct {
	factory ControllerFactory
	logger  zerolog.Logger

	restartMu sync.Mutex

	mu      sync.RWMutex
	current *call.Controller
}

func NewSessionHolder(factory ControllerFactory) *SessionHolder {
	return &SessionHolder{
		factory: factory,
		logger:  log.With().Str("module", "app.holder").Logger(),
	}
}

func (h *SessionHolder) Current() (*call.Controller, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil {
		return nil, ErrNoSession
	}
	return h.current, nil
}

// Restart ends the current controller, installs a new one and starts it.
// The new controller is installed even if it fails to start so its
// terminated snapshot stays visible.
func (h *SessionHolder) Restart(ctx context.Context) (*call.Controller, error) {
	h.restartMu.Lock()
	defer h.restartMu.Unlock()

	h.mu.RLock()
	old := h.current
	h.mu.RUnlock()
	if old != nil {
		old.EndCall()
	}

	next, err := h.factory()
	if err != nil {
		h.logger.Error().Err(err).Msg("build session")
		return nil, err
	}
	h.mu.Lock()
	h.current = next
	h.mu.Unlock()

	if err := next.Start(ctx); err != nil {
		h.logger.Error().Err(err).Msg("session start failed")
		return next, err
	}
	h.logger.Info().Str("peer", next.LocalIdentity().String()).Msg("session ready")
	return next, nil
}

// Close ends the current controller. Idempotent.
func (h *SessionHolder) Close() {
	h.restartMu.Lock()
	defer h.restartMu.Unlock()
	h.mu.Lock()
	cur := h.current
	h.current = nil
	h.mu.Unlock()
	if cur != nil {
		cur.EndCall()
	}
}
