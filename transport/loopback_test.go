package transport

import (
	"context"
	"testing"
	"time"
)

func waitForEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestLoopbackTransportConnectsPeers(t *testing.T) {
	hub := NewLoopbackHub()
	a := NewLoopbackTransport(hub)
	b := NewLoopbackTransport(hub)

	if err := a.StartAdvertising(context.Background(), "a"); err != nil {
		t.Fatalf("a.StartAdvertising() error: %v", err)
	}
	if err := b.StartAdvertising(context.Background(), "b"); err != nil {
		t.Fatalf("b.StartAdvertising() error: %v", err)
	}

	waitForEvent(t, a.Events(), EndpointConnected)
	waitForEvent(t, b.Events(), EndpointConnected)

	if got := a.ConnectedEndpoints(); len(got) != 1 || got[0] != "b" {
		t.Errorf("a.ConnectedEndpoints() = %v, want [b]", got)
	}
}

func TestLoopbackTransportSendAndBroadcast(t *testing.T) {
	hub := NewLoopbackHub()
	a := NewLoopbackTransport(hub)
	b := NewLoopbackTransport(hub)
	c := NewLoopbackTransport(hub)

	_ = a.StartAdvertising(context.Background(), "a")
	_ = b.StartAdvertising(context.Background(), "b")
	_ = c.StartAdvertising(context.Background(), "c")

	waitForEvent(t, a.Events(), EndpointConnected)
	waitForEvent(t, a.Events(), EndpointConnected)

	if err := a.Send("b", []byte("hi b")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	ev := waitForEvent(t, b.Events(), BytesReceived)
	if string(ev.Payload) != "hi b" || ev.EndpointID != "a" {
		t.Errorf("Send() delivered %+v, want payload=hi b from=a", ev)
	}

	if err := a.Broadcast([]byte("hi all")); err != nil {
		t.Fatalf("Broadcast() error: %v", err)
	}
	waitForEvent(t, b.Events(), BytesReceived)
	waitForEvent(t, c.Events(), BytesReceived)
}

func TestLoopbackTransportSendUnknownEndpoint(t *testing.T) {
	hub := NewLoopbackHub()
	a := NewLoopbackTransport(hub)
	_ = a.StartAdvertising(context.Background(), "a")

	if err := a.Send("ghost", []byte("x")); err != ErrEndpointUnknown {
		t.Errorf("Send() error = %v, want ErrEndpointUnknown", err)
	}
}

func TestLoopbackTransportBroadcastNoPeers(t *testing.T) {
	hub := NewLoopbackHub()
	a := NewLoopbackTransport(hub)
	_ = a.StartAdvertising(context.Background(), "a")

	if err := a.Broadcast([]byte("x")); err != ErrNoPeers {
		t.Errorf("Broadcast() error = %v, want ErrNoPeers", err)
	}
}

func TestLoopbackTransportStopAllNotifiesPeers(t *testing.T) {
	hub := NewLoopbackHub()
	a := NewLoopbackTransport(hub)
	b := NewLoopbackTransport(hub)
	_ = a.StartAdvertising(context.Background(), "a")
	_ = b.StartAdvertising(context.Background(), "b")
	waitForEvent(t, a.Events(), EndpointConnected)
	waitForEvent(t, b.Events(), EndpointConnected)

	if err := a.StopAll(); err != nil {
		t.Fatalf("StopAll() error: %v", err)
	}
	waitForEvent(t, b.Events(), EndpointDisconnected)

	if got := b.ConnectedEndpoints(); len(got) != 0 {
		t.Errorf("ConnectedEndpoints() after peer stop = %v, want empty", got)
	}
}
