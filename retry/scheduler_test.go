package retry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Akrittt/dtmesh/message"
	"github.com/Akrittt/dtmesh/store"
)

func TestBackoffDelaySchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{10, 5 * time.Minute}, // caps at MaxRetryDelay
	}
	for _, c := range cases {
		if got := backoffDelay(c.attempt); got != c.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

// fakeEgressor records RetryEgress calls and returns a scripted result.
type fakeEgressor struct {
	mu    sync.Mutex
	calls []string
	sent  bool
	err   error
}

func (f *fakeEgressor) RetryEgress(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	return f.sent, f.err
}

func (f *fakeEgressor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// manualClock is a Clock whose Now() is set explicitly by the test, used to
// exercise Cleanup's staleness math without waiting on real timers.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func pendingRecord(id string) *message.Record {
	return &message.Record{
		MessageID:     id,
		Content:       "hi",
		SenderID:      "A",
		RecipientID:   "B",
		TimestampMs:   time.Now().UnixMilli(),
		Status:        message.StatusPending,
		TTLMs:         time.Now().Add(time.Hour).UnixMilli(),
		IntegrityHash: "h",
		IsOutgoing:    true,
	}
}

func TestScheduleExhaustsToFailed(t *testing.T) {
	db := testStore(t)
	rec := pendingRecord("m1")
	if err := db.UpsertMessage(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	eg := &fakeEgressor{}
	sched := New(db, eg)
	sched.Schedule("m1", MaxRetryAttempts)

	got, err := db.GetMessage(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != message.StatusFailed {
		t.Errorf("Status = %v, want FAILED", got.Status)
	}
	if eg.callCount() != 0 {
		t.Error("RetryEgress should not be called once attempts are exhausted")
	}
}

func TestMarkDeliveredCancelsPendingTimer(t *testing.T) {
	db := testStore(t)
	rec := pendingRecord("m2")
	if err := db.UpsertMessage(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	eg := &fakeEgressor{sent: true}
	sched := New(db, eg)
	sched.Schedule("m2", 0)
	sched.MarkDelivered("m2")

	sched.mu.Lock()
	_, stillArmed := sched.entries["m2"]
	sched.mu.Unlock()
	if stillArmed {
		t.Error("MarkDelivered did not cancel the scheduled entry")
	}

	// Calling it again on an already-cancelled id must not panic.
	sched.MarkDelivered("m2")
}

func TestRetryPendingOnConnectionRestoredSchedulesEveryPending(t *testing.T) {
	db := testStore(t)
	for _, id := range []string{"p1", "p2"} {
		if err := db.UpsertMessage(context.Background(), pendingRecord(id)); err != nil {
			t.Fatal(err)
		}
	}
	// A sent, non-pending message must not be swept up.
	sentRec := pendingRecord("s1")
	if err := db.UpsertMessage(context.Background(), sentRec); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateStatus(context.Background(), "s1", message.StatusSent); err != nil {
		t.Fatal(err)
	}

	eg := &fakeEgressor{sent: true}
	sched := New(db, eg)
	sched.RetryPendingOnConnectionRestored(context.Background())

	sched.mu.Lock()
	_, hasP1 := sched.entries["p1"]
	_, hasP2 := sched.entries["p2"]
	_, hasS1 := sched.entries["s1"]
	sched.mu.Unlock()

	if !hasP1 || !hasP2 {
		t.Error("expected both pending messages to have an armed retry entry")
	}
	if hasS1 {
		t.Error("a SENT message should not be scheduled by connection-restored sweep")
	}
}

func TestCleanupDropsStaleEntries(t *testing.T) {
	db := testStore(t)
	rec := pendingRecord("stale1")
	if err := db.UpsertMessage(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	clock := &manualClock{now: time.Now()}
	eg := &fakeEgressor{}
	sched := NewWithClock(db, eg, clock)

	// Arm manually with a very long delay so the real timer never fires
	// during the test; Cleanup should still condemn it once the clock
	// advances more than 2*MaxRetryDelay past its scheduled fire time.
	sched.arm("stale1", 0, time.Hour)
	clock.advance(time.Hour + staleAfter + time.Minute)

	sched.Cleanup(context.Background())

	got, err := db.GetMessage(context.Background(), "stale1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != message.StatusFailed {
		t.Errorf("Status = %v, want FAILED", got.Status)
	}

	sched.mu.Lock()
	_, stillArmed := sched.entries["stale1"]
	sched.mu.Unlock()
	if stillArmed {
		t.Error("Cleanup did not drop the stale entry")
	}
}

func TestExecuteReschedulesWhenNoPeers(t *testing.T) {
	db := testStore(t)
	rec := pendingRecord("m3")
	if err := db.UpsertMessage(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	eg := &fakeEgressor{sent: false}
	sched := New(db, eg)

	// Call execute directly rather than waiting on a real timer.
	sched.execute("m3", 1)

	if eg.callCount() != 1 {
		t.Fatalf("callCount = %d, want 1", eg.callCount())
	}

	sched.mu.Lock()
	e, ok := sched.entries["m3"]
	sched.mu.Unlock()
	if !ok {
		t.Fatal("execute should have re-armed a retry after a peerless attempt")
	}
	if e.attempt != 1 {
		t.Errorf("re-armed attempt = %d, want 1", e.attempt)
	}
	e.timer.Stop()
}

func TestExecuteMarksSucceeded(t *testing.T) {
	db := testStore(t)
	rec := pendingRecord("m4")
	if err := db.UpsertMessage(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	eg := &fakeEgressor{sent: true}
	sched := New(db, eg)

	done := make(chan Event, 1)
	go func() {
		for ev := range sched.Events() {
			if ev.Kind == RetrySucceeded {
				done <- ev
				return
			}
		}
	}()

	sched.execute("m4", 1)

	select {
	case ev := <-done:
		if ev.MessageID != "m4" {
			t.Errorf("MessageID = %s, want m4", ev.MessageID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe RetrySucceeded event")
	}
}
