package core

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// hubImpl is a threadsafe in-memory watcher set.
type hubImpl struct {
	mu       sync.RWMutex
	watchers map[WatcherID]SignalConnection
}

func NewWatcherHub() WatcherHub {
	return &hubImpl{watchers: make(map[WatcherID]SignalConnection)}
}

func (h *hubImpl) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

func (h *hubImpl) Add(id WatcherID, conn SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers[id] = conn
	log.Info().Str("module", "core.hub").Str("watcher", string(id)).Int("count", len(h.watchers)).Msg("watcher added")
}

func (h *hubImpl) Remove(id WatcherID) (SignalConnection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.watchers[id]
	delete(h.watchers, id)
	if ok {
		log.Info().Str("module", "core.hub").Str("watcher", string(id)).Msg("watcher removed")
	}
	return conn, ok
}

func (h *hubImpl) Broadcast(data Frame) PublishResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	res := PublishResult{}
	for id, conn := range h.watchers {
		if err := conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.hub").Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
