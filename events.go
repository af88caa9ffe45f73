package dtmesh

// EventKind identifies the kind of occurrence carried by an Event, unifying
// transport connectivity changes with the Forwarder and RetryScheduler
// events named in §6 as the engine's down-calls to the UI.
type EventKind uint8

const (
	PeerConnected EventKind = iota
	PeerDisconnected
	MessageReceived
	Delivered
	Forwarded
	DuplicateFiltered
	Failed
	MaxRetriesExceeded
	RetryScheduled
	RetrySucceeded
	RetryFailed
	// StatsSnapshot fires every StatsInterval, carrying the same value
	// pushed to ObserveStats's subscribers.
	StatsSnapshot
)

// Event is a single Engine occurrence, pushed onto Events() rather than
// delivered through a listener interface.
type Event struct {
	Kind      EventKind
	MessageID string
	PeerID    string
	PeerName  string
	NumPeers  int
	Attempt   int
	Reason    error
	Stats     Stats
}

// Stats is the periodic snapshot emitted every StatsInterval, both as a
// down-call Event and on the ObserveStats stream.
type Stats struct {
	ConnectedPeers int
	SeenSetSize    int
	FriendCount    int
	PendingRetries int
}
