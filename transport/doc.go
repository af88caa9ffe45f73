// Package transport implements PeerTransport: the abstract neighbor
// discovery and byte-delivery layer the engine builds on, plus three
// concrete implementations — UDPTransport (best-effort LAN broadcast),
// QUICTransport (encrypted stream transport for routed networks), and
// LoopbackTransport (in-process, for deterministic multi-node tests).
//
// Occurrences are delivered as Event values on the buffered channel
// returned by Events(); an event that finds the channel full is dropped,
// so consumers drain it promptly and do real work elsewhere.
package transport
