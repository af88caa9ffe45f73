package forward

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/Akrittt/dtmesh/crypto"
	"github.com/Akrittt/dtmesh/friend"
	"github.com/Akrittt/dtmesh/message"
	"github.com/Akrittt/dtmesh/store"
	"github.com/Akrittt/dtmesh/transport"
	"github.com/Akrittt/dtmesh/wire"
)

const (
	// DefaultTTLMs is DEFAULT_TTL: how far in the future a locally
	// originated message's deadline is set.
	DefaultTTLMs = int64(24 * time.Hour / time.Millisecond)
	// AckTTLMs is ACK_TTL: how long an acknowledgement remains valid.
	AckTTLMs = int64(60 * time.Second / time.Millisecond)
)

// RetryScheduler is the subset of retry.Scheduler's behavior a Forwarder
// depends on. Forwarder accepts the interface rather than the concrete
// type so forward and retry can each be tested without the other.
type RetryScheduler interface {
	Schedule(id string, attempt int)
	MarkDelivered(id string)
	RetryPendingOnConnectionRestored(ctx context.Context)
}

// Forwarder is the store-and-forward pipeline: it owns a SeenSet and
// mediates between MessageStore, PeerTransport, and CryptoBox.
type Forwarder struct {
	store     *store.DB
	transport transport.PeerTransport
	box       *crypto.Box
	scheduler RetryScheduler
	friends   *friend.Directory
	selfID    string

	seen   *SeenSet
	events chan Event
}

// New constructs a Forwarder. box may be nil, in which case egress always
// sends plaintext (CryptoUnavailable, per §7). friends may be nil, in which
// case per-friend message counters are not maintained.
func New(db *store.DB, tr transport.PeerTransport, box *crypto.Box, scheduler RetryScheduler, friends *friend.Directory, selfID string) *Forwarder {
	return &Forwarder{
		store:     db,
		transport: tr,
		box:       box,
		scheduler: scheduler,
		friends:   friends,
		selfID:    selfID,
		seen:      NewSeenSet(),
		events:    make(chan Event, 256),
	}
}

// Events returns the channel this Forwarder pushes occurrences onto.
func (f *Forwarder) Events() <-chan Event {
	return f.events
}

// SeenCount returns the current size of the SeenSet, for stats reporting.
func (f *Forwarder) SeenCount() int {
	return f.seen.Len()
}

// Ingest runs the ingress pipeline over bytes received from fromEndpoint.
func (f *Forwarder) Ingest(ctx context.Context, fromEndpoint string, data []byte) error {
	m, err := wire.UnmarshalMessage(data)
	if err != nil {
		return ErrDecodeFailed
	}

	now := time.Now().UnixMilli()
	if now > m.TTLMs {
		return ErrExpired
	}
	if f.seen.Contains(m.MessageID) {
		f.emit(Event{Kind: DuplicateFiltered, MessageID: m.MessageID})
		return ErrDuplicate
	}

	plaintext, err := f.recoverPlaintext(m)
	if err != nil {
		return err
	}
	expected := crypto.ContentHash(plaintext, m.SenderID, m.RecipientID, m.TimestampMs)
	if expected != m.Hash {
		return ErrTampered
	}

	f.seen.Add(m.MessageID)

	switch m.MessageType {
	case wire.Text:
		return f.handleText(ctx, m, plaintext)
	case wire.Ack:
		return f.handleAck(ctx, m)
	default:
		return nil
	}
}

func (f *Forwarder) recoverPlaintext(m wire.NetworkMessage) (string, error) {
	if !m.Encrypted {
		return m.Content, nil
	}
	if f.box == nil {
		return "", crypto.ErrCryptoUnavailable
	}
	blob, err := crypto.ParseBlob(m.Content)
	if err != nil {
		return "", err
	}
	plaintext, err := f.box.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (f *Forwarder) handleText(ctx context.Context, m wire.NetworkMessage, plaintext string) error {
	rec := &message.Record{
		MessageID:     m.MessageID,
		Content:       plaintext,
		SenderID:      m.SenderID,
		RecipientID:   m.RecipientID,
		TimestampMs:   m.TimestampMs,
		Status:        message.StatusPending,
		HopCount:      m.HopCount,
		TTLMs:         m.TTLMs,
		IntegrityHash: m.Hash,
		IsOutgoing:    false,
	}
	if err := f.store.UpsertMessage(ctx, rec); err != nil {
		f.emit(Event{Kind: Failed, MessageID: m.MessageID, Reason: err})
		return err
	}
	f.emit(Event{Kind: MessageReceived, MessageID: m.MessageID, SenderID: m.SenderID})

	forMe := m.RecipientID == f.selfID || m.RecipientID == message.BroadcastRecipient
	if forMe {
		if err := f.store.UpdateStatus(ctx, m.MessageID, message.StatusDelivered); err != nil {
			logrus.WithError(err).WithField("message_id", m.MessageID).Warn("forward: failed to mark inbound message delivered")
		}
		f.scheduler.MarkDelivered(m.MessageID)
		f.emit(Event{Kind: Delivered, MessageID: m.MessageID, SenderID: m.SenderID})
		f.incrementFriend(ctx, m.SenderID)

		if m.RecipientID != message.BroadcastRecipient {
			f.sendAck(m.MessageID)
		}
	}

	f.forwardIfEligible(m)
	return nil
}

func (f *Forwarder) handleAck(ctx context.Context, m wire.NetworkMessage) error {
	if !strings.HasPrefix(m.Content, wire.AckPrefix) {
		return ErrDecodeFailed
	}
	originalID := strings.TrimPrefix(m.Content, wire.AckPrefix)

	if err := f.store.UpdateStatus(ctx, originalID, message.StatusDelivered); err != nil && err != store.ErrNotFound {
		return err
	}
	f.scheduler.MarkDelivered(originalID)
	f.emit(Event{Kind: Delivered, MessageID: originalID})
	return nil
}

func (f *Forwarder) forwardIfEligible(m wire.NetworkMessage) {
	now := time.Now().UnixMilli()
	if m.HopCount >= message.MaxHops || now > m.TTLMs {
		return
	}
	peers := f.transport.ConnectedEndpoints()
	if len(peers) == 0 {
		return
	}

	next := m
	next.HopCount++
	next.ForwarderPath = m.ForwarderPath + "->" + f.selfID

	data, err := wire.MarshalMessage(next)
	if err != nil {
		f.emit(Event{Kind: Failed, MessageID: m.MessageID, Reason: ErrEncodeFailed})
		return
	}
	if err := f.transport.Broadcast(data); err != nil {
		f.emit(Event{Kind: Failed, MessageID: m.MessageID, Reason: err})
		return
	}
	f.emit(Event{Kind: Forwarded, MessageID: m.MessageID, NumPeers: len(peers)})
}

func (f *Forwarder) sendAck(originalID string) {
	ackID, err := crypto.RandomID()
	if err != nil {
		logrus.WithError(err).Warn("forward: failed to generate ack id")
		return
	}
	now := time.Now().UnixMilli()
	content := wire.AckPrefix + originalID
	ack := wire.NetworkMessage{
		MessageType: wire.Ack,
		MessageID:   ackID,
		SenderID:    f.selfID,
		Content:     content,
		TimestampMs: now,
		HopCount:    0,
		TTLMs:       now + AckTTLMs,
		Hash:        crypto.ContentHash(content, f.selfID, "", now),
		Encrypted:   false,
	}
	data, err := wire.MarshalMessage(ack)
	if err != nil {
		logrus.WithError(err).Warn("forward: failed to encode ack")
		return
	}
	if err := f.transport.Broadcast(data); err != nil {
		logrus.WithError(err).Debug("forward: ack broadcast failed")
	}
}

// SendText originates a new outgoing MessageRecord for recipientID and runs
// the egress pipeline, scheduling a retry if no peer is connected.
func (f *Forwarder) SendText(ctx context.Context, recipientID, body string) (string, error) {
	if body == "" || utf8.RuneCountInString(body) > message.MaxContentLength {
		return "", ErrValidation
	}

	id, err := crypto.RandomID()
	if err != nil {
		return "", err
	}
	now := time.Now().UnixMilli()

	rec := &message.Record{
		MessageID:     id,
		Content:       body,
		SenderID:      f.selfID,
		RecipientID:   recipientID,
		TimestampMs:   now,
		Status:        message.StatusPending,
		HopCount:      0,
		TTLMs:         now + DefaultTTLMs,
		IntegrityHash: crypto.ContentHash(body, f.selfID, recipientID, now),
		IsOutgoing:    true,
	}
	if err := f.store.UpsertMessage(ctx, rec); err != nil {
		return "", err
	}

	sent, err := f.egress(rec)
	if err != nil {
		_ = f.store.UpdateStatus(ctx, id, message.StatusFailed)
		f.emit(Event{Kind: Failed, MessageID: id, Reason: err})
		return id, nil
	}
	if sent {
		_ = f.store.UpdateStatus(ctx, id, message.StatusSent)
		f.incrementFriend(ctx, recipientID)
	} else {
		f.scheduler.Schedule(id, 0)
	}
	return id, nil
}

// RetryEgress re-attempts delivery of an already-persisted MessageRecord,
// for RetryScheduler's execute step. It reports whether a peer was
// connected at send time.
func (f *Forwarder) RetryEgress(ctx context.Context, id string) (bool, error) {
	rec, err := f.store.GetMessage(ctx, id)
	if err != nil {
		return false, err
	}

	now := time.Now().UnixMilli()
	if now > rec.TTLMs {
		_ = f.store.UpdateStatus(ctx, id, message.StatusFailed)
		return false, ErrExpired
	}

	sent, err := f.egress(rec)
	if err != nil {
		return false, err
	}
	if sent {
		_ = f.store.UpdateStatus(ctx, id, message.StatusSent)
		f.incrementFriend(ctx, rec.RecipientID)
	}
	return sent, nil
}

// egress builds and broadcasts the wire form of rec, returning whether a
// connected peer received it.
func (f *Forwarder) egress(rec *message.Record) (bool, error) {
	wireContent := rec.Content
	encrypted := false
	var signature string

	if f.box != nil {
		blob, err := f.box.Encrypt([]byte(rec.Content))
		if err != nil {
			logrus.WithError(err).Debug("forward: encrypt failed, falling back to plaintext")
		} else if serialized, serr := blob.Serialize(); serr == nil {
			wireContent = serialized
			encrypted = true
		}
		if sig, serr := f.box.Sign(rec.Content, rec.SenderID, rec.TimestampMs, time.Now().UnixMilli()); serr == nil {
			signature = sig
		}
	}

	m := wire.NetworkMessage{
		MessageType: wire.Text,
		MessageID:   rec.MessageID,
		SenderID:    rec.SenderID,
		RecipientID: rec.RecipientID,
		Content:     wireContent,
		TimestampMs: rec.TimestampMs,
		HopCount:    rec.HopCount,
		TTLMs:       rec.TTLMs,
		Hash:        rec.IntegrityHash,
		Encrypted:   encrypted,
		Signature:   signature,
	}

	f.seen.Add(rec.MessageID)

	data, err := wire.MarshalMessage(m)
	if err != nil {
		return false, ErrEncodeFailed
	}

	peers := f.transport.ConnectedEndpoints()
	if len(peers) == 0 {
		return false, nil
	}
	if err := f.transport.Broadcast(data); err != nil {
		return false, err
	}
	return true, nil
}

// OnPeerConnected reacts to a transport connection by asking the
// RetryScheduler to immediately retry every pending outgoing message.
func (f *Forwarder) OnPeerConnected(ctx context.Context) {
	f.scheduler.RetryPendingOnConnectionRestored(ctx)
}

// Cleanup prunes expired MessageStore rows. The SeenSet trims itself on
// overflow and needs no explicit action here.
func (f *Forwarder) Cleanup(ctx context.Context) (int64, error) {
	return f.store.DeleteExpired(ctx, time.Now().UnixMilli())
}

// incrementFriend bumps userID's message counter if a friends directory is
// configured and userID names an existing friend (never the broadcast
// pseudo-recipient or an unknown peer).
func (f *Forwarder) incrementFriend(ctx context.Context, userID string) {
	if f.friends == nil || userID == "" || userID == message.BroadcastRecipient {
		return
	}
	if err := f.friends.IncrementMessages(ctx, userID); err != nil && err != store.ErrNotFound {
		logrus.WithError(err).WithField("user_id", userID).Debug("forward: failed to increment friend message counter")
	}
}

func (f *Forwarder) emit(ev Event) {
	select {
	case f.events <- ev:
	default:
		logrus.Warn("forward: event channel full, dropping event")
	}
}
