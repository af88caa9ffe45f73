package transport

import "errors"

var (
	// ErrEndpointUnknown is returned by Send when endpointID is not
	// currently connected.
	ErrEndpointUnknown = errors.New("transport: unknown endpoint")
	// ErrNoPeers is returned by Broadcast when no endpoint is connected.
	ErrNoPeers = errors.New("transport: no connected peers")
)
