package app

import (
	"sync"

	"github.com/dkeye/peercall/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickWatcher
)

// Policy decides what happens to a watcher whose send buffer is full.
type Policy interface {
	OnBackPressure(id core.WatcherID) BackpressureAction
}

// SimplePolicy kicks on the first dropped frame.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.WatcherID) BackpressureAction { return KickWatcher }

// StrikePolicy kicks a watcher on its Limit-th dropped frame.
type StrikePolicy struct {
	Limit int

	mu      sync.Mutex
	strikes map[core.WatcherID]int
}

func NewStrikePolicy(limit int) *StrikePolicy {
	if limit <= 0 {
		limit = 1
	}
	return &StrikePolicy{Limit: limit, strikes: make(map[core.WatcherID]int)}
}

func (p *StrikePolicy) OnBackPressure(id core.WatcherID) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strikes[id]++
	if p.strikes[id] >= p.Limit {
		delete(p.strikes, id)
		return KickWatcher
	}
	return NoAction
}
