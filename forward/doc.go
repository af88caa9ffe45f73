// Package forward implements Forwarder: the ingress pipeline (dedup ->
// integrity -> decrypt -> deliver/forward) and egress pipeline (encrypt ->
// sign -> broadcast) that sit between WireCodec and MessageStore.
//
// A Forwarder owns its SeenSet and is meant to be driven by a single
// goroutine — its exported methods do their own locking only where the
// SeenSet or seen-message-ID bookkeeping demands it, but callers should
// still route all ingress and egress work through one executor so ordering
// between a message and its own echo is preserved.
package forward
