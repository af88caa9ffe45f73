// Package dtmesh wires the crypto, wire, message, store, friend, transport,
// forward, and retry packages into a single delay-tolerant messaging
// engine and exposes the up-call/down-call surface a UI drives.
package dtmesh

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Akrittt/dtmesh/crypto"
	"github.com/Akrittt/dtmesh/forward"
	"github.com/Akrittt/dtmesh/friend"
	"github.com/Akrittt/dtmesh/message"
	"github.com/Akrittt/dtmesh/retry"
	"github.com/Akrittt/dtmesh/store"
	"github.com/Akrittt/dtmesh/transport"
)

// Engine is EngineCoordinator: the component that owns the lifecycle of
// every other package and translates transport/forwarder/scheduler
// occurrences into a single upward event stream.
type Engine struct {
	selfID    string
	db        *store.DB
	transport transport.PeerTransport
	box       *crypto.Box
	friends   *friend.Directory
	forwarder *forward.Forwarder
	scheduler *retry.Scheduler

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	statsSubs []chan Stats
}

// New constructs and starts an Engine: it opens the store, wires every
// component together, calls PeerTransport.StartAdvertising/StartDiscovery,
// and launches the maintenance and event-dispatch loops.
func New(opts *Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, errNilTransport
	}
	if opts.DBPath == "" {
		return nil, errEmptyDBPath
	}

	db, err := store.Open(opts.DBPath)
	if err != nil {
		return nil, err
	}

	selfID, err := resolveSelfUserID(context.Background(), db, opts.SelfUserID)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var box *crypto.Box
	if opts.CryptoSeed != "" {
		box = crypto.NewBox(crypto.SeedKeyProvider(opts.CryptoSeed))
	}

	friends := friend.NewDirectory(db)

	// scheduler and forwarder hold interface references to each other;
	// the scheduler is built first with a nil egressor and wired to the
	// forwarder once it exists.
	scheduler := retry.New(db, nil)
	fwd := forward.New(db, opts.Transport, box, scheduler, friends, selfID)
	scheduler.SetEgressor(fwd)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		selfID:    selfID,
		db:        db,
		transport: opts.Transport,
		box:       box,
		friends:   friends,
		forwarder: fwd,
		scheduler: scheduler,
		events:    make(chan Event, 256),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := opts.Transport.StartAdvertising(ctx, selfID); err != nil {
		cancel()
		_ = db.Close()
		return nil, err
	}
	if err := opts.Transport.StartDiscovery(ctx); err != nil {
		cancel()
		_ = db.Close()
		return nil, err
	}

	e.wg.Add(4)
	go e.dispatchTransportEvents()
	go e.dispatchForwarderEvents()
	go e.dispatchSchedulerEvents()
	go e.maintenanceLoop()

	return e, nil
}

// metaSelfUserIDKey is the store.DB meta table key backing the
// device-stable identity described in §4.7: friend rows, ACK matching, and
// "for me" delivery all key off self_user_id, so it must survive restarts.
const metaSelfUserIDKey = "self_user_id"

// resolveSelfUserID returns a stable identity for this engine instance. An
// explicit override always wins and is persisted so it becomes the stored
// identity for future runs that omit it; otherwise a previously persisted
// id is reused, and only a genuinely first run generates a fresh one.
func resolveSelfUserID(ctx context.Context, db *store.DB, override string) (string, error) {
	if override != "" {
		if err := db.SetMeta(ctx, metaSelfUserIDKey, override); err != nil {
			return "", err
		}
		return override, nil
	}

	stored, err := db.GetMeta(ctx, metaSelfUserIDKey)
	if err == nil {
		return stored, nil
	}
	if err != store.ErrNotFound {
		return "", err
	}

	generated := uuid.NewString()
	if err := db.SetMeta(ctx, metaSelfUserIDKey, generated); err != nil {
		return "", err
	}
	return generated, nil
}

// SelfUserID returns the identifier this engine advertises under.
func (e *Engine) SelfUserID() string {
	return e.selfID
}

// Events returns the channel this Engine pushes occurrences onto.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// SendText is Engine.send_text: it originates a new outgoing message and
// returns its message_id. It returns ErrValidation for an empty or
// oversize body and ErrClosed after Shutdown; a failure to generate the ID
// or to store the new record is also returned, since no message exists yet.
// Once the record is stored, everything else becomes a status transition
// and an Event.
func (e *Engine) SendText(ctx context.Context, recipientID, body string) (string, error) {
	if e.isClosed() {
		return "", ErrClosed
	}
	return e.forwarder.SendText(ctx, recipientID, body)
}

// ObserveMessages is Engine.observe_messages: a live view over every
// message row, re-emitted after each commit that changes it.
func (e *Engine) ObserveMessages(ctx context.Context) <-chan []*message.Record {
	return e.db.ObserveAll(ctx)
}

// ObserveConversation is Engine.observe_conversation, scoped to messages
// exchanged between u1 and u2.
func (e *Engine) ObserveConversation(ctx context.Context, u1, u2 string) <-chan []*message.Record {
	return e.db.ObserveConversation(ctx, u1, u2)
}

// CleanupExpired is Engine.cleanup_expired: it prunes MessageStore rows
// past their TTL. Periodic maintenance also calls this every
// CleanupInterval.
func (e *Engine) CleanupExpired(ctx context.Context) (int64, error) {
	return e.forwarder.Cleanup(ctx)
}

// Stats returns a point-in-time snapshot for the periodic stats event and
// for UI-driven polling.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	friends, err := e.friends.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		ConnectedPeers: len(e.transport.ConnectedEndpoints()),
		SeenSetSize:    e.forwarder.SeenCount(),
		FriendCount:    len(friends),
		PendingRetries: e.scheduler.Stats().PendingRetries,
	}, nil
}

// AddFriend, RemoveFriend, RenameFriend, and FavoriteFriend delegate to the
// friends directory, the "friends CRUD" up-calls from §6.

func (e *Engine) AddFriend(ctx context.Context, userID, nickname string) (friend.Friend, error) {
	return e.friends.Add(ctx, userID, nickname)
}

func (e *Engine) RemoveFriend(ctx context.Context, userID string) error {
	return e.friends.Remove(ctx, userID)
}

func (e *Engine) RenameFriend(ctx context.Context, userID, nickname string) error {
	return e.friends.Rename(ctx, userID, nickname)
}

func (e *Engine) FavoriteFriend(ctx context.Context, userID string, favorite bool) error {
	return e.friends.Favorite(ctx, userID, favorite)
}

func (e *Engine) ListFriends(ctx context.Context) ([]friend.Friend, error) {
	return e.friends.List(ctx)
}

// IncrementFriend is the "increment" friends-CRUD up-call from §6, exposed
// directly for callers that attribute a message outside the normal
// send/receive path (e.g. a UI replaying a delivery receipt).
func (e *Engine) IncrementFriend(ctx context.Context, userID string) error {
	return e.friends.IncrementMessages(ctx, userID)
}

// ObserveStats returns a live view of Stats, re-computed on every
// StatsInterval tick alongside the periodic Stats event.
func (e *Engine) ObserveStats(ctx context.Context) <-chan Stats {
	out := make(chan Stats, 1)
	e.mu.Lock()
	e.statsSubs = append(e.statsSubs, out)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, sub := range e.statsSubs {
			if sub == out {
				e.statsSubs = append(e.statsSubs[:i], e.statsSubs[i+1:]...)
				break
			}
		}
		close(out)
	}()

	return out
}

// dispatchTransportEvents implements the §4.7 transport-event table:
// connected triggers the pending-retry sweep, marks the friend online and
// emits PeerConnected; disconnected marks the friend offline and emits
// PeerDisconnected; received bytes go to the forwarder's Ingest.
func (e *Engine) dispatchTransportEvents() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.transport.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case transport.EndpointConnected:
				e.forwarder.OnPeerConnected(e.ctx)
				if err := e.friends.SetOnline(e.ctx, ev.EndpointID, true, ev.EndpointID); err != nil && err != store.ErrNotFound {
					logrus.WithError(err).WithField("peer_id", ev.EndpointID).Debug("dtmesh: failed to mark friend online")
				}
				e.emit(Event{Kind: PeerConnected, PeerID: ev.EndpointID, PeerName: ev.Name})
			case transport.EndpointDisconnected:
				if err := e.friends.SetOnline(e.ctx, ev.EndpointID, false, ev.EndpointID); err != nil && err != store.ErrNotFound {
					logrus.WithError(err).WithField("peer_id", ev.EndpointID).Debug("dtmesh: failed to mark friend offline")
				}
				e.emit(Event{Kind: PeerDisconnected, PeerID: ev.EndpointID})
			case transport.BytesReceived:
				if err := e.forwarder.Ingest(e.ctx, ev.EndpointID, ev.Payload); err != nil {
					logrus.WithError(err).WithField("endpoint", ev.EndpointID).Debug("dtmesh: ingest dropped inbound bytes")
				}
			case transport.EndpointDiscovered:
				// informational only; StartAdvertising/dial already acted on it
			}
		}
	}
}

func (e *Engine) dispatchForwarderEvents() {
	defer e.wg.Done()
	kindMap := map[forward.EventKind]EventKind{
		forward.MessageReceived:     MessageReceived,
		forward.Delivered:           Delivered,
		forward.Forwarded:           Forwarded,
		forward.DuplicateFiltered:   DuplicateFiltered,
		forward.Failed:              Failed,
	}
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.forwarder.Events():
			if !ok {
				return
			}
			e.emit(Event{
				Kind:      kindMap[ev.Kind],
				MessageID: ev.MessageID,
				PeerID:    ev.SenderID,
				NumPeers:  ev.NumPeers,
				Reason:    ev.Reason,
			})
		}
	}
}

func (e *Engine) dispatchSchedulerEvents() {
	defer e.wg.Done()
	kindMap := map[retry.EventKind]EventKind{
		retry.RetryScheduled:     RetryScheduled,
		retry.RetrySucceeded:     RetrySucceeded,
		retry.RetryFailed:        RetryFailed,
		retry.MaxRetriesExceeded: MaxRetriesExceeded,
	}
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.scheduler.Events():
			if !ok {
				return
			}
			e.emit(Event{
				Kind:      kindMap[ev.Kind],
				MessageID: ev.MessageID,
				Attempt:   ev.Attempt,
				Reason:    ev.Reason,
			})
		}
	}
}

// maintenanceLoop implements §4.7's three periodic ticks: cleanup, stats,
// and re-discovery when no peer is connected.
func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()

	cleanupTicker := time.NewTicker(CleanupInterval)
	statsTicker := time.NewTicker(StatsInterval)
	discoveryTicker := time.NewTicker(RediscoveryInterval)
	defer cleanupTicker.Stop()
	defer statsTicker.Stop()
	defer discoveryTicker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-cleanupTicker.C:
			if _, err := e.forwarder.Cleanup(e.ctx); err != nil {
				logrus.WithError(err).Warn("dtmesh: periodic cleanup failed")
			}
			e.scheduler.Cleanup(e.ctx)
		case <-statsTicker.C:
			if stats, err := e.Stats(e.ctx); err == nil {
				logrus.WithFields(logrus.Fields{
					"connected_peers": stats.ConnectedPeers,
					"seen_set_size":   stats.SeenSetSize,
					"friend_count":    stats.FriendCount,
					"pending_retries": stats.PendingRetries,
				}).Info("dtmesh: stats")
				e.emit(Event{Kind: StatsSnapshot, Stats: stats})
				e.publishStats(stats)
			}
		case <-discoveryTicker.C:
			if len(e.transport.ConnectedEndpoints()) == 0 {
				if err := e.transport.StartDiscovery(e.ctx); err != nil {
					logrus.WithError(err).Debug("dtmesh: re-discovery attempt failed")
				}
			}
		}
	}
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		logrus.Warn("dtmesh: event channel full, dropping event")
	}
}

// publishStats pushes a fresh snapshot to every ObserveStats subscriber,
// dropping it for any subscriber that hasn't drained the previous one.
func (e *Engine) publishStats(stats Stats) {
	e.mu.Lock()
	subs := append([]chan Stats(nil), e.statsSubs...)
	e.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- stats:
		default:
		}
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Shutdown cancels the engine context, which stops the maintenance tickers
// and dispatch loops, waits for them up to ShutdownDrainBudget, then closes
// the transport and store regardless of whether the drain finished. Retry
// timers already armed in the scheduler are not stopped.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(ShutdownDrainBudget):
		logrus.Warn("dtmesh: shutdown drain budget exceeded, force-stopping")
	}

	transportErr := e.transport.StopAll()
	dbErr := e.db.Close()
	close(e.events)

	if transportErr != nil {
		return transportErr
	}
	return dbErr
}
