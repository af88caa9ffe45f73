package message

import (
	"errors"
	"sync"
)

// Fixed configuration constants from the wire/store contract.
const (
	// MaxHops is the maximum number of intermediate nodes a message may
	// traverse before it is no longer forwarded.
	MaxHops = 5
	// MaxContentLength bounds plaintext length in UTF-8 code points.
	MaxContentLength = 1000
	// BroadcastRecipient is the reserved recipient ID meaning "every
	// receiving device should deliver locally".
	BroadcastRecipient = "broadcast"
)

// Status is the delivery status of a MessageRecord.
type Status uint8

const (
	// StatusPending means the message has not yet been sent or, for
	// inbound messages, not yet resolved to a terminal outcome.
	StatusPending Status = iota
	// StatusSent means the message was handed to the transport layer.
	StatusSent
	// StatusDelivered means an acknowledgement (or local delivery, for
	// the addressee) was observed. Terminal.
	StatusDelivered
	// StatusFailed means delivery was abandoned. Terminal.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSent:
		return "SENT"
	case StatusDelivered:
		return "DELIVERED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidTransition is returned by TransitionTo when the requested
// status would violate the monotone PENDING -> SENT -> DELIVERED ordering,
// or would leave an absorbing state (DELIVERED, FAILED).
var ErrInvalidTransition = errors.New("message: invalid status transition")

// legalFrom maps a current status to the set of statuses it may move to.
var legalFrom = map[Status]map[Status]bool{
	StatusPending:   {StatusSent: true, StatusDelivered: true, StatusFailed: true},
	StatusSent:      {StatusDelivered: true, StatusFailed: true},
	StatusDelivered: {},
	StatusFailed:    {},
}

// Record is a MessageRecord: the persistent unit of the store-and-forward
// log, identified by MessageID.
type Record struct {
	MessageID      string
	Content        string
	SenderID       string
	RecipientID    string
	TimestampMs    int64
	Status         Status
	HopCount       int
	TTLMs          int64
	IntegrityHash  string
	IsOutgoing     bool

	mu sync.Mutex
}

// TransitionTo moves the record to a new status, enforcing the monotone
// ordering invariant. It is a no-op (returns nil) if the record is already
// in the requested status.
func (r *Record) TransitionTo(next Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status == next {
		return nil
	}
	if !legalFrom[r.Status][next] {
		return ErrInvalidTransition
	}
	r.Status = next
	return nil
}

// CurrentStatus returns the record's status under the record's own lock,
// safe for concurrent readers racing a TransitionTo call.
func (r *Record) CurrentStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status
}

// Clone returns a shallow copy safe to hand to a reader without sharing
// the mutex state (a fresh, unlocked mutex).
func (r *Record) Clone() *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Record{
		MessageID:     r.MessageID,
		Content:       r.Content,
		SenderID:      r.SenderID,
		RecipientID:   r.RecipientID,
		TimestampMs:   r.TimestampMs,
		Status:        r.Status,
		HopCount:      r.HopCount,
		TTLMs:         r.TTLMs,
		IntegrityHash: r.IntegrityHash,
		IsOutgoing:    r.IsOutgoing,
	}
}

// IsForwardable reports whether a record is still eligible to be
// forwarded: within the hop budget and not expired, per spec invariants 3
// and 4.
func (r *Record) IsForwardable(nowMs int64) bool {
	return r.HopCount <= MaxHops && r.TTLMs >= nowMs
}

// IsExpired reports whether the record's TTL has passed as of nowMs.
func (r *Record) IsExpired(nowMs int64) bool {
	return r.TTLMs < nowMs
}
