package core

import (
	"context"

	"github.com/dkeye/peercall/internal/domain"
)

// PeerTransport establishes point-to-point media connections by peer id.
// Negotiation details stay behind this interface.
type PeerTransport interface {
	// Open registers with the broker and returns the id this side is reachable at.
	Open(ctx context.Context) (domain.PeerID, error)
	OnIncomingCall(fn func(PendingCall))
	Place(ctx context.Context, remote domain.PeerID, local Stream) (ActiveCall, error)
	// Close releases every connection. Idempotent.
	Close() error
}

// PendingCall is an inbound connection attempt that has not been answered.
type PendingCall interface {
	RemoteID() domain.PeerID
	Answer(ctx context.Context, local Stream) (ActiveCall, error)
	Reject()
	// OnCancelled fires once if the caller goes away before an answer. A
	// handler registered after that moment fires immediately.
	OnCancelled(fn func())
}

// ActiveCall is an established (or establishing) media connection.
type ActiveCall interface {
	RemoteID() domain.PeerID
	// OnRemoteStream fires once when remote media starts flowing. A handler
	// registered after that moment fires immediately.
	OnRemoteStream(fn func(Stream))
	// OnClosed fires once when the connection goes away for any reason.
	OnClosed(fn func())
	Senders() []Sender
	Close() error
}

// Sender is an outbound track slot whose track can be swapped in place.
type Sender interface {
	// Kind reports the kind of the track currently carried, if any.
	Kind() (domain.TrackKind, bool)
	ReplaceTrack(t Track) error
}
