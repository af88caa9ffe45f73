package transport

import (
	"context"
	"sync"
)

// loopbackHub connects a set of LoopbackTransport instances that share the
// same hub so message tests can build deterministic multi-node topologies
// without a real network.
type loopbackHub struct {
	mu    sync.Mutex
	nodes map[string]*LoopbackTransport
}

// NewLoopbackHub creates an empty hub. Each LoopbackTransport joining the
// hub becomes visible to every other member as soon as it starts
// advertising.
func NewLoopbackHub() *loopbackHub {
	return &loopbackHub{nodes: make(map[string]*LoopbackTransport)}
}

// LoopbackTransport is an in-process PeerTransport: every node sharing a
// hub is "connected" to every other node the instant both have advertised,
// and Send/Broadcast deliver synchronously by pushing onto each recipient's
// event channel, dropping the event if that channel is full.
type LoopbackTransport struct {
	hub    *loopbackHub
	selfID string
	events chan Event

	mu       sync.RWMutex
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewLoopbackTransport creates a transport that will join hub once started.
func NewLoopbackTransport(hub *loopbackHub) *LoopbackTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &LoopbackTransport{
		hub:    hub,
		events: make(chan Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// StartAdvertising registers this node in the hub under selfID and notifies
// every existing member (and itself, of the existing members) that a new
// connection is available.
func (t *LoopbackTransport) StartAdvertising(ctx context.Context, selfID string) error {
	t.selfID = selfID

	t.hub.mu.Lock()
	existing := make([]*LoopbackTransport, 0, len(t.hub.nodes))
	for _, n := range t.hub.nodes {
		existing = append(existing, n)
	}
	t.hub.nodes[selfID] = t
	t.hub.mu.Unlock()

	for _, peer := range existing {
		peer.emit(Event{Kind: EndpointConnected, EndpointID: selfID, Name: selfID})
		t.emit(Event{Kind: EndpointConnected, EndpointID: peer.selfID, Name: peer.selfID})
	}
	return nil
}

// StartDiscovery is a no-op: hub membership already implies connectivity.
func (t *LoopbackTransport) StartDiscovery(ctx context.Context) error {
	return nil
}

// Send delivers payload to a single hub member.
func (t *LoopbackTransport) Send(endpointID string, payload []byte) error {
	t.hub.mu.Lock()
	peer, ok := t.hub.nodes[endpointID]
	t.hub.mu.Unlock()
	if !ok {
		return ErrEndpointUnknown
	}
	t.deliver(peer, payload)
	return nil
}

// Broadcast delivers payload to every other hub member.
func (t *LoopbackTransport) Broadcast(payload []byte) error {
	t.hub.mu.Lock()
	peers := make([]*LoopbackTransport, 0, len(t.hub.nodes))
	for id, n := range t.hub.nodes {
		if id != t.selfID {
			peers = append(peers, n)
		}
	}
	t.hub.mu.Unlock()

	if len(peers) == 0 {
		return ErrNoPeers
	}
	for _, peer := range peers {
		t.deliver(peer, payload)
	}
	return nil
}

func (t *LoopbackTransport) deliver(peer *LoopbackTransport, payload []byte) {
	body := make([]byte, len(payload))
	copy(body, payload)
	peer.emit(Event{Kind: BytesReceived, EndpointID: t.selfID, Payload: body})
}

// StopAll removes this node from the hub and closes its event channel.
func (t *LoopbackTransport) StopAll() error {
	t.hub.mu.Lock()
	delete(t.hub.nodes, t.selfID)
	remaining := make([]*LoopbackTransport, 0, len(t.hub.nodes))
	for _, n := range t.hub.nodes {
		remaining = append(remaining, n)
	}
	t.hub.mu.Unlock()

	for _, peer := range remaining {
		peer.emit(Event{Kind: EndpointDisconnected, EndpointID: t.selfID})
	}

	t.mu.Lock()
	if !t.stopped {
		t.stopped = true
		t.cancel()
		close(t.events)
	}
	t.mu.Unlock()
	return nil
}

// ConnectedEndpoints returns every other member currently in the hub.
func (t *LoopbackTransport) ConnectedEndpoints() []string {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()
	out := make([]string, 0, len(t.hub.nodes))
	for id := range t.hub.nodes {
		if id != t.selfID {
			out = append(out, id)
		}
	}
	return out
}

// Events returns the channel this transport delivers occurrences on.
func (t *LoopbackTransport) Events() <-chan Event {
	return t.events
}

func (t *LoopbackTransport) emit(ev Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stopped {
		return
	}
	select {
	case t.events <- ev:
	default:
	}
}
