package transport

import "context"

// EventKind identifies the kind of value carried by an Event.
type EventKind uint8

const (
	// EndpointDiscovered fires when a peer is found by discovery but not
	// yet connected.
	EndpointDiscovered EventKind = iota
	// EndpointConnected fires when bytes can be exchanged with EndpointID.
	EndpointConnected
	// EndpointDisconnected fires when a previously connected endpoint is
	// no longer reachable.
	EndpointDisconnected
	// BytesReceived fires with the payload from an already-connected
	// endpoint.
	BytesReceived
)

// Event is a single transport occurrence delivered on Transport.Events().
// Using one tagged value instead of a listener interface keeps every
// transport implementation's callback surface identical and lets a caller
// select over one channel per transport instance.
type Event struct {
	Kind       EventKind
	EndpointID string
	Name       string // populated on EndpointConnected
	Payload    []byte // populated on BytesReceived
}

// PeerTransport is the abstract neighbor-discovery and byte-delivery layer
// the engine builds on. Endpoint IDs are opaque strings assigned by the
// implementation. Ordering between two distinct Send calls is never
// guaranteed; broadcast is best-effort fan-out; payloads are delivered
// whole or not at all up to the implementation's MTU.
type PeerTransport interface {
	// StartAdvertising makes this node discoverable as selfID.
	StartAdvertising(ctx context.Context, selfID string) error
	// StartDiscovery begins looking for other advertising nodes.
	StartDiscovery(ctx context.Context) error
	// Send delivers payload to a single connected endpoint.
	Send(endpointID string, payload []byte) error
	// Broadcast delivers payload to every currently connected endpoint.
	Broadcast(payload []byte) error
	// StopAll halts advertising, discovery, and all connections.
	StopAll() error
	// ConnectedEndpoints returns the currently connected endpoint IDs.
	ConnectedEndpoints() []string
	// Events returns the channel on which this transport delivers Event
	// values. The channel is closed after StopAll.
	Events() <-chan Event
}
