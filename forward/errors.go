package forward

import "errors"

var (
	// ErrDecodeFailed is returned when WireCodec cannot parse inbound bytes.
	ErrDecodeFailed = errors.New("forward: decode failed")
	// ErrEncodeFailed is returned when a MessageRecord cannot be turned
	// into wire bytes on egress.
	ErrEncodeFailed = errors.New("forward: encode failed")
	// ErrExpired is returned (informationally) when a message's TTL has
	// already passed.
	ErrExpired = errors.New("forward: expired")
	// ErrDuplicate is returned (informationally) when a message_id is
	// already present in the SeenSet.
	ErrDuplicate = errors.New("forward: duplicate")
	// ErrTampered is returned when the recomputed content hash does not
	// match the message's hash field.
	ErrTampered = errors.New("forward: integrity check failed")
	// ErrValidation is returned by SendText for an empty or oversize body.
	ErrValidation = errors.New("forward: invalid message body")
)
