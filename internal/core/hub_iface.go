package core

// WatcherID identifies one presentation client subscribed to session events.
type WatcherID string

// PublishResult reports delivery stats/backpressure to the notifier.
type PublishResult struct {
	SentTo  int
	Dropped []WatcherID
}

// WatcherHub owns the set of watcher connections but never closes them
// on its own; the adapter or the notifier's policy does.
type WatcherHub interface {
	Add(id WatcherID, conn SignalConnection)
	Remove(id WatcherID) (SignalConnection, bool)
	Count() int
	Broadcast(data Frame) PublishResult
}
