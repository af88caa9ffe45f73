// Package wire implements WireCodec: serialization of NetworkMessage to and
// from the JSON bytes that cross a PeerTransport.
//
// Field names are fixed and case-sensitive for interoperability with any
// independently built peer speaking the same protocol version; see
// NetworkMessage's struct tags for the exact wire vocabulary.
package wire
