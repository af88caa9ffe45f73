package retry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Akrittt/dtmesh/message"
	"github.com/Akrittt/dtmesh/store"
)

// Fixed configuration constants from spec §4.6 / the configuration table.
const (
	InitialRetryDelay = 5 * time.Second
	MaxRetryDelay     = 5 * time.Minute
	MaxRetryAttempts  = 3
	// ReconnectRetryDelay is the near-immediate retry tick used by
	// RetryPendingOnConnectionRestored, distinct from the backoff schedule.
	ReconnectRetryDelay = 1 * time.Second
	// staleAfter bounds how long past its scheduled fire time a
	// never-fired entry may sit before Cleanup gives up on it and forces
	// the message to FAILED.
	staleAfter = 2 * MaxRetryDelay
)

// backoffDelay computes delay(k) = min(5_000 ms * 2^k, 300_000 ms).
func backoffDelay(attempt int) time.Duration {
	d := InitialRetryDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	return d
}

// Egressor is the subset of Forwarder's behavior a Scheduler depends on.
// Scheduler accepts the interface rather than the concrete type so retry
// and forward can each be tested without the other.
type Egressor interface {
	RetryEgress(ctx context.Context, id string) (bool, error)
}

type entry struct {
	attempt  int
	nextTime time.Time
	timer    *time.Timer
}

// Scheduler is RetryScheduler: a per-message_id table of at-most-one active
// retry task, driven by exponential backoff and reconciled on reconnect.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry

	store   *store.DB
	egress  Egressor
	clock   Clock
	events  chan Event
}

// New constructs a Scheduler backed by the system clock.
func New(db *store.DB, egressor Egressor) *Scheduler {
	return NewWithClock(db, egressor, systemClock{})
}

// NewWithClock constructs a Scheduler with an injected Clock, for
// deterministic staleness tests.
func NewWithClock(db *store.DB, egressor Egressor, clock Clock) *Scheduler {
	return &Scheduler{
		entries: make(map[string]*entry),
		store:   db,
		egress:  egressor,
		clock:   clock,
		events:  make(chan Event, 256),
	}
}

// Events returns the channel this Scheduler pushes occurrences onto.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

// SetEgressor binds the Egressor after construction, for callers that must
// build a Scheduler before its Forwarder exists (the two hold interface
// references to each other).
func (s *Scheduler) SetEgressor(e Egressor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.egress = e
}

// Schedule arms (or re-arms) the retry timer for id at backoff level
// attempt. attempt >= MaxRetryAttempts marks the message FAILED instead of
// scheduling.
func (s *Scheduler) Schedule(id string, attempt int) {
	if attempt >= MaxRetryAttempts {
		s.giveUp(id)
		return
	}
	s.arm(id, attempt, backoffDelay(attempt))
}

func (s *Scheduler) giveUp(id string) {
	s.cancelLocked(id)
	if err := s.store.UpdateStatus(context.Background(), id, message.StatusFailed); err != nil && err != store.ErrNotFound {
		logrus.WithError(err).WithField("message_id", id).Warn("retry: failed to mark exhausted message failed")
	}
	s.emit(Event{Kind: MaxRetriesExceeded, MessageID: id})
}

func (s *Scheduler) arm(id string, attempt int, delay time.Duration) {
	s.mu.Lock()
	s.stopLocked(id)
	e := &entry{attempt: attempt, nextTime: s.clock.Now().Add(delay)}
	e.timer = time.AfterFunc(delay, func() { s.execute(id, attempt+1) })
	s.entries[id] = e
	s.mu.Unlock()

	s.emit(Event{Kind: RetryScheduled, MessageID: id, Attempt: attempt})
}

// execute is the timer-fire callback: it removes its own state entry before
// doing anything else, so a concurrent MarkDelivered or re-Schedule for the
// same id never races against a stale entry.
func (s *Scheduler) execute(id string, attempt int) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()

	rec, err := s.store.GetMessage(context.Background(), id)
	if err != nil {
		if err != store.ErrNotFound {
			logrus.WithError(err).WithField("message_id", id).Warn("retry: failed to load message for retry")
		}
		return
	}
	if rec.Status != message.StatusPending {
		return
	}

	s.mu.Lock()
	egress := s.egress
	s.mu.Unlock()
	if egress == nil {
		return
	}

	sent, err := egress.RetryEgress(context.Background(), id)
	if err != nil {
		s.emit(Event{Kind: RetryFailed, MessageID: id, Attempt: attempt, Reason: err})
		return
	}
	if !sent {
		s.emit(Event{Kind: RetryFailed, MessageID: id, Attempt: attempt})
		s.Schedule(id, attempt)
		return
	}
	if err := s.store.UpdateStatus(context.Background(), id, message.StatusSent); err != nil && err != store.ErrNotFound && err != message.ErrInvalidTransition {
		logrus.WithError(err).WithField("message_id", id).Warn("retry: failed to mark message sent after successful retry")
	}
	s.emit(Event{Kind: RetrySucceeded, MessageID: id, Attempt: attempt})
}

// MarkDelivered cancels any pending retry task for id. It is idempotent:
// calling it for an id with no active task is a no-op.
func (s *Scheduler) MarkDelivered(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(id)
}

// RetryPendingOnConnectionRestored schedules a near-immediate retry for
// every PENDING outgoing message, overriding any longer backoff already in
// flight for that id.
func (s *Scheduler) RetryPendingOnConnectionRestored(ctx context.Context) {
	recs, err := s.store.ListPending(ctx)
	if err != nil {
		logrus.WithError(err).Warn("retry: failed to list pending messages on reconnect")
		return
	}
	for _, r := range recs {
		s.arm(r.MessageID, 0, ReconnectRetryDelay)
	}
}

// Cleanup force-fails and drops any entry whose scheduled fire time is
// older than 2 * MaxRetryDelay, guarding against a timer that never fired
// (e.g. process suspended past its deadline).
func (s *Scheduler) Cleanup(ctx context.Context) {
	threshold := s.clock.Now().Add(-staleAfter)

	var stale []string
	s.mu.Lock()
	for id, e := range s.entries {
		if e.nextTime.Before(threshold) {
			s.stopLocked(id)
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		if err := s.store.UpdateStatus(ctx, id, message.StatusFailed); err != nil && err != store.ErrNotFound {
			logrus.WithError(err).WithField("message_id", id).Warn("retry: failed to mark stale message failed")
		}
		s.emit(Event{Kind: MaxRetriesExceeded, MessageID: id})
	}
}

// SchedulerStats is a point-in-time snapshot of the retry table.
type SchedulerStats struct {
	// PendingRetries is the number of message_ids with an active retry
	// timer armed.
	PendingRetries int
}

// Stats returns a snapshot of the current retry table, for the periodic
// stats event.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{PendingRetries: len(s.entries)}
}

// stopLocked stops and removes id's timer, if any. Callers must hold s.mu.
func (s *Scheduler) stopLocked(id string) {
	if e, ok := s.entries[id]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, id)
	}
}

func (s *Scheduler) cancelLocked(id string) {
	s.mu.Lock()
	s.stopLocked(id)
	s.mu.Unlock()
}

func (s *Scheduler) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		logrus.Warn("retry: event channel full, dropping event")
	}
}
