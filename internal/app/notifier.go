package app

import (
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
)

// Notifier serializes session events and fans them out to every watcher.
type Notifier struct {
	Hub    core.WatcherHub
	Policy Policy
	logger zerolog.Logger
}

var _ core.Publisher = (*Notifier)(nil)

func NewNotifier(hub core.WatcherHub, policy Policy) *Notifier {
	return &Notifier{
		Hub:    hub,
		Policy: policy,
		logger: log.With().Str("module", "app.notifier").Logger(),
	}
}

func (n *Notifier) Publish(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Error().Err(err).Msg("event not serializable")
		return
	}
	res := n.Hub.Broadcast(core.Frame(data))
	if n.Policy == nil || len(res.Dropped) == 0 {
		return
	}
	for _, id := range res.Dropped {
		switch n.Policy.OnBackPressure(id) {
		case KickWatcher:
			n.Kick(id)
		case NoAction:
		}
	}
}

// Kick drops a watcher and closes its connection.
func (n *Notifier) Kick(id core.WatcherID) {
	conn, ok := n.Hub.Remove(id)
	if !ok {
		return
	}
	conn.Close()
	n.logger.Info().Str("watcher", string(id)).Msg("slow watcher kicked")
}
