package wire

import "encoding/json"

// MessageType distinguishes a user-authored NetworkMessage from a
// store-and-forward acknowledgement.
type MessageType string

const (
	// Text carries a user-authored message body (plaintext or an
	// EncryptedBlob JSON string) in Content.
	Text MessageType = "TEXT"
	// Ack carries "ACK:" + the original message_id in Content and is never
	// re-forwarded by the ingress pipeline.
	Ack MessageType = "ACK"
)

// AckPrefix is the fixed literal that precedes the original message_id in
// an ACK's content field.
const AckPrefix = "ACK:"

// NetworkMessage is the wire-only representation of a message in flight.
// Field names are fixed and stable; they are never renamed even if the Go
// field names change, since a peer built from a different source tree must
// still decode them.
type NetworkMessage struct {
	MessageType   MessageType `json:"messageType"`
	MessageID     string      `json:"messageId"`
	SenderID      string      `json:"senderId"`
	RecipientID   string      `json:"recipientId"`
	Content       string      `json:"content"`
	TimestampMs   int64       `json:"timestamp"`
	HopCount      int         `json:"hopCount"`
	TTLMs         int64       `json:"ttl"`
	Hash          string      `json:"hash"`
	Encrypted     bool        `json:"encrypted"`
	Signature     string      `json:"signature"`
	ForwarderPath string      `json:"forwarderPath"`
}

// MarshalMessage encodes m deterministically; encoding/json's struct-tag
// field order is fixed by NetworkMessage's declaration order.
func MarshalMessage(m NetworkMessage) ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMessage decodes bytes into a NetworkMessage, rejecting a payload
// missing messageId, senderId, or content, or with a non-positive
// timestamp.
func UnmarshalMessage(data []byte) (NetworkMessage, error) {
	var m NetworkMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return NetworkMessage{}, ErrMalformed
	}
	if m.MessageID == "" || m.SenderID == "" || m.Content == "" || m.TimestampMs <= 0 {
		return NetworkMessage{}, ErrMalformed
	}
	return m, nil
}
