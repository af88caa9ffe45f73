package dtmesh

import "github.com/Akrittt/dtmesh/transport"

// Options configures a new Engine.
type Options struct {
	// SelfUserID is the device-stable identifier this engine advertises
	// under. If empty, New reuses the id stored in the database's meta
	// table, or generates one and stores it there; a non-empty value is
	// stored and replaces any earlier id.
	SelfUserID string
	// DBPath is the sqlite file backing the message log and friends
	// directory. Required.
	DBPath string
	// CryptoSeed derives the demo AES-256 key via crypto.SeedKeyProvider.
	// Leaving it empty runs the engine with CryptoUnavailable: egress
	// always falls back to plaintext, per §7.
	CryptoSeed string
	// Transport is the PeerTransport implementation to drive. Required.
	Transport transport.PeerTransport
}

// NewOptions returns Options with every field at its zero value except
// DBPath, which most callers overwrite anyway.
func NewOptions() *Options {
	return &Options{DBPath: "dtmesh.db"}
}
