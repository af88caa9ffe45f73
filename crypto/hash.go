package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
)

// ContentHash computes the lowercase hex SHA-256 of
// content||sender||recipient||timestamp_ascii, with no separator, in that
// fixed order. It is computed over plaintext regardless of whether the
// message travels encrypted on the wire.
func ContentHash(content, senderID, recipientID string, timestampMs int64) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte(senderID))
	h.Write([]byte(recipientID))
	h.Write([]byte(strconv.FormatInt(timestampMs, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// RandomID returns 16 cryptographically random bytes as URL-safe,
// unpadded base64 — the format for a MessageRecord's message_id.
func RandomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", ErrCryptoUnavailable
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Sign produces the source's message signature: base64(SHA256(content ||
// sender || timestamp || wallClockNow || key)). nowMs supplies the wall
// clock in milliseconds; production code passes time.Now().UnixMilli().
//
// This does not authenticate the message against a private key — it is a
// hash the sender computes with a value (nowMs) the receiver cannot
// reproduce. VerifySignature below preserves the source's corresponding
// no-op check rather than pretending this is a real signature scheme; see
// spec.md's Open Questions on signature semantics.
func (b *Box) Sign(content, senderID string, timestampMs, nowMs int64) (string, error) {
	key, err := b.key()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte(senderID))
	h.Write([]byte(strconv.FormatInt(timestampMs, 10)))
	h.Write([]byte(strconv.FormatInt(nowMs, 10)))
	h.Write(key[:])
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// VerifySignature checks only that signature base64-decodes to exactly 32
// bytes (a SHA-256 digest length) — matching the source implementation's
// verifyMessageSignature, which never recomputes the hash. It is
// preserved for wire compatibility and is not a security check.
func VerifySignature(signature string) bool {
	if signature == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return len(decoded) == sha256.Size
}

// String implements fmt.Stringer on Blob for debug logging without
// leaking full ciphertext into log lines.
func (b Blob) String() string {
	return fmt.Sprintf("Blob{ciphertext=%d bytes, iv=%s}", len(b.Ciphertext), b.IV)
}
