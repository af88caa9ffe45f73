package retry

// EventKind identifies the kind of occurrence carried by an Event.
type EventKind uint8

const (
	// RetryScheduled fires whenever a message_id gets a new timer, whether
	// from a fresh send, a re-arm after a failed attempt, or a
	// connection-restored sweep.
	RetryScheduled EventKind = iota
	// RetrySucceeded fires when an execute() attempt reaches a peer.
	RetrySucceeded
	// RetryFailed fires when an execute() attempt does not reach a peer.
	// With no peer connected the message is rescheduled; when RetryEgress
	// returns an error, Reason carries it and no retry is rescheduled.
	RetryFailed
	// MaxRetriesExceeded fires when a message_id exhausts MaxRetryAttempts
	// or is dropped as stale by Cleanup.
	MaxRetriesExceeded
)

// Event is a single Scheduler occurrence.
type Event struct {
	Kind      EventKind
	MessageID string
	Attempt   int
	Reason    error
}
