package core

import "github.com/dkeye/peercall/internal/domain"

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Signaling is the outbound half of the rendezvous channel.
// Delivery is best-effort; callers log failures and move on.
type Signaling interface {
	Announce(id domain.PeerID) error
	NotifyLeaving() error
}

// Publisher fans state events out to whoever presents the session.
type Publisher interface {
	Publish(event any)
}

// PublisherFunc adapts a func to Publisher.
type PublisherFunc func(event any)

func (f PublisherFunc) Publish(event any) { f(event) }
