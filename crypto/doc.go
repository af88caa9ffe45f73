// Package crypto implements CryptoBox: the symmetric AES-256-CBC
// encryption, SHA-256 content hashing, and message signing used to protect
// NetworkMessage payloads on the wire.
//
// The key is derived deterministically from a build-time seed via SHA-256
// — an explicit demo key, not a production key-exchange result. Callers
// that need a different key source implement KeyProvider; nothing else in
// this package or its callers changes.
//
//	box := crypto.NewBox(crypto.SeedKeyProvider("my-seed"))
//	blob, err := box.Encrypt([]byte("hello"))
//	plain, err := box.Decrypt(blob)
//
// Encrypt/Decrypt reproduce the source implementation's exact byte layout
// (AES-256-CBC, PKCS#7 padding, 16-byte IV, MAC = SHA256(key||iv||plaintext))
// so that independently built binaries sharing a seed interoperate on the
// wire. ContentHash and Sign/VerifySignature likewise reproduce the
// source's exact semantics, including VerifySignature's format-only check
// — see the Open Questions note on Sign for why that is not hardened here.
package crypto
