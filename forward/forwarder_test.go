package forward

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Akrittt/dtmesh/crypto"
	"github.com/Akrittt/dtmesh/message"
	"github.com/Akrittt/dtmesh/store"
	"github.com/Akrittt/dtmesh/transport"
	"github.com/Akrittt/dtmesh/wire"
)

type fakeScheduler struct {
	scheduled []string
	delivered []string
	restored  int
}

func (f *fakeScheduler) Schedule(id string, attempt int)                 { f.scheduled = append(f.scheduled, id) }
func (f *fakeScheduler) MarkDelivered(id string)                         { f.delivered = append(f.delivered, id) }
func (f *fakeScheduler) RetryPendingOnConnectionRestored(context.Context) { f.restored++ }

// sharedHub is the loopback hub test forwarders join; each test starts by
// calling resetHub so nodes from a prior test don't leak in.
var sharedHub = transport.NewLoopbackHub()

func resetHub() {
	sharedHub = transport.NewLoopbackHub()
}

func newTestForwarder(t *testing.T, selfID string) (*Forwarder, *store.DB, *fakeScheduler, transport.PeerTransport) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	tr := transport.NewLoopbackTransport(sharedHub)
	if err := tr.StartAdvertising(context.Background(), selfID); err != nil {
		t.Fatal(err)
	}

	sched := &fakeScheduler{}
	box := crypto.NewBox(crypto.SeedKeyProvider("test-seed"))
	f := New(db, tr, box, sched, nil, selfID)
	return f, db, sched, tr
}

// drainInto forwards every BytesReceived transport event into f.Ingest,
// standing in for the forwarder executor that would normally own this loop.
func drainInto(tr transport.PeerTransport, f *Forwarder) {
	go func() {
		for ev := range tr.Events() {
			if ev.Kind == transport.BytesReceived {
				_ = f.Ingest(context.Background(), ev.EndpointID, ev.Payload)
			}
		}
	}()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSendTextThenIngestDeliversAndAcks(t *testing.T) {
	resetHub()
	fA, dbA, _, trA := newTestForwarder(t, "A")
	fB, _, schedB, trB := newTestForwarder(t, "B")

	drainInto(trA, fA)
	drainInto(trB, fB)

	ctx := context.Background()
	id, err := fA.SendText(ctx, "B", "hello there")
	if err != nil {
		t.Fatalf("SendText() error: %v", err)
	}

	waitFor(t, func() bool {
		rec, err := dbA.GetMessage(ctx, id)
		return err == nil && rec.Status == message.StatusDelivered
	})

	if len(schedB.delivered) == 0 {
		t.Error("B's scheduler never saw MarkDelivered for the inbound message")
	}
}

func TestIngestDropsExpiredMessage(t *testing.T) {
	resetHub()
	f, _, _, _ := newTestForwarder(t, "A")

	m := wire.NetworkMessage{
		MessageType: wire.Text,
		MessageID:   "m1",
		SenderID:    "X",
		RecipientID: "A",
		Content:     "stale",
		TimestampMs: 1000,
		TTLMs:       1, // already expired
		Hash:        crypto.ContentHash("stale", "X", "A", 1000),
	}
	data, _ := wire.MarshalMessage(m)

	if err := f.Ingest(context.Background(), "X", data); err != ErrExpired {
		t.Errorf("Ingest() error = %v, want ErrExpired", err)
	}
}

func TestIngestDropsTamperedMessage(t *testing.T) {
	resetHub()
	f, _, _, _ := newTestForwarder(t, "A")

	m := wire.NetworkMessage{
		MessageType: wire.Text,
		MessageID:   "m1",
		SenderID:    "X",
		RecipientID: "A",
		Content:     "hello",
		TimestampMs: 1000,
		TTLMs:       time.Now().Add(time.Hour).UnixMilli(),
		Hash:        "0000000000000000000000000000000000000000000000000000000000000000",
	}
	data, _ := wire.MarshalMessage(m)

	if err := f.Ingest(context.Background(), "X", data); err != ErrTampered {
		t.Errorf("Ingest() error = %v, want ErrTampered", err)
	}
	if f.seen.Contains("m1") {
		t.Error("tampered message_id must not be added to SeenSet")
	}
}

func TestIngestFiltersDuplicates(t *testing.T) {
	resetHub()
	f, _, _, _ := newTestForwarder(t, "A")

	content := "hi"
	ts := time.Now().UnixMilli()
	m := wire.NetworkMessage{
		MessageType: wire.Text,
		MessageID:   "dup1",
		SenderID:    "X",
		RecipientID: "broadcast",
		Content:     content,
		TimestampMs: ts,
		TTLMs:       ts + 1000000,
		Hash:        crypto.ContentHash(content, "X", "broadcast", ts),
	}
	data, _ := wire.MarshalMessage(m)

	if err := f.Ingest(context.Background(), "X", data); err != nil {
		t.Fatalf("first Ingest() error: %v", err)
	}
	if err := f.Ingest(context.Background(), "X", data); err != ErrDuplicate {
		t.Errorf("second Ingest() error = %v, want ErrDuplicate", err)
	}
}

func TestSendTextRejectsOversizeBody(t *testing.T) {
	resetHub()
	f, _, _, _ := newTestForwarder(t, "A")

	huge := make([]byte, message.MaxContentLength+1)
	for i := range huge {
		huge[i] = 'x'
	}
	if _, err := f.SendText(context.Background(), "B", string(huge)); err != ErrValidation {
		t.Errorf("SendText() error = %v, want ErrValidation", err)
	}
}

func TestSendTextSchedulesRetryWithNoPeers(t *testing.T) {
	resetHub()
	f, db, sched, _ := newTestForwarder(t, "A")

	id, err := f.SendText(context.Background(), "B", "lonely")
	if err != nil {
		t.Fatalf("SendText() error: %v", err)
	}
	if len(sched.scheduled) != 1 || sched.scheduled[0] != id {
		t.Errorf("scheduled = %v, want [%s]", sched.scheduled, id)
	}

	rec, err := db.GetMessage(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != message.StatusPending {
		t.Errorf("Status = %v, want PENDING", rec.Status)
	}
}

// TestMultiHopForward exercises B relaying a message from A that is not
// addressed to B, and C (connected to B, standing in for a next hop)
// receiving it one hop higher.
func TestMultiHopForward(t *testing.T) {
	resetHub()
	fB, _, _, trB := newTestForwarder(t, "B")
	fC, dbC, _, trC := newTestForwarder(t, "C")

	drainInto(trB, fB)
	drainInto(trC, fC)

	ctx := context.Background()
	content := "via B"
	ts := time.Now().UnixMilli()
	m := wire.NetworkMessage{
		MessageType: wire.Text,
		MessageID:   "hop1",
		SenderID:    "A",
		RecipientID: "C",
		Content:     content,
		TimestampMs: ts,
		HopCount:    0,
		TTLMs:       ts + int64(time.Hour/time.Millisecond),
		Hash:        crypto.ContentHash(content, "A", "C", ts),
	}
	data, err := wire.MarshalMessage(m)
	if err != nil {
		t.Fatal(err)
	}

	if err := fB.Ingest(ctx, "A", data); err != nil {
		t.Fatalf("B.Ingest() error: %v", err)
	}

	waitFor(t, func() bool {
		rec, err := dbC.GetMessage(ctx, "hop1")
		return err == nil && rec.Status == message.StatusDelivered
	})

	rec, err := dbC.GetMessage(ctx, "hop1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.HopCount != 1 {
		t.Errorf("HopCount at delivery = %d, want 1", rec.HopCount)
	}
}
