package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

const ivLength = 16 // 128 bits, AES block size

// Blob is the wire-serialized form of an encrypted payload (EncryptedBlob
// in spec terms). Field names are fixed short forms for interop: c
// (ciphertext), i (iv), h (integrity tag), all standard base64.
type Blob struct {
	Ciphertext string `json:"c"`
	IV         string `json:"i"`
	MAC        string `json:"h"`
}

// Serialize renders the blob as the small JSON object embedded inside a
// NetworkMessage's content field when encrypted is true.
func (b Blob) Serialize() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseBlob parses a serialized Blob back into its structured form.
func ParseBlob(s string) (Blob, error) {
	var b Blob
	if err := json.Unmarshal([]byte(s), &b); err != nil {
		return Blob{}, ErrBadFormat
	}
	if b.Ciphertext == "" || b.IV == "" || b.MAC == "" {
		return Blob{}, ErrBadFormat
	}
	return b, nil
}

// KeyProvider supplies the 32-byte AES-256 key used by a Box. Replacing
// the key source (e.g. for a future real key-exchange scheme) means
// implementing a new KeyProvider — Box and its callers never change.
type KeyProvider interface {
	Key() ([32]byte, error)
}

// SeedKeyProvider derives a deterministic 32-byte key from a build-time
// seed string via SHA-256. This is the explicit demo key described in the
// spec: all binaries built with the same seed interoperate, and no two
// binaries with different seeds do.
type SeedKeyProvider string

// Key implements KeyProvider.
func (s SeedKeyProvider) Key() ([32]byte, error) {
	return sha256.Sum256([]byte(s)), nil
}

// Box is CryptoBox: symmetric AES-256-CBC encryption plus the
// content-hash and signature helpers used across the wire protocol.
type Box struct {
	provider KeyProvider
}

// NewBox constructs a Box from a KeyProvider. NewBox never fails; key
// derivation errors surface lazily from Encrypt/Decrypt/Sign so a Box can
// always be constructed and wired into components at startup.
func NewBox(provider KeyProvider) *Box {
	return &Box{provider: provider}
}

func (b *Box) key() ([32]byte, error) {
	key, err := b.provider.Key()
	if err != nil {
		logrus.WithError(err).Error("crypto: key provider failed")
		return [32]byte{}, ErrCryptoUnavailable
	}
	return key, nil
}

// Encrypt produces a fresh EncryptedBlob for plaintext: a random 16-byte
// IV, AES-256-CBC with PKCS#7 padding, and a MAC of
// SHA256(key || iv || plaintext) base64-encoded.
func (b *Box) Encrypt(plaintext []byte) (Blob, error) {
	key, err := b.key()
	if err != nil {
		return Blob{}, err
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return Blob{}, ErrCryptoUnavailable
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return Blob{}, ErrCryptoUnavailable
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := computeMAC(key, iv, plaintext)

	return Blob{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		MAC:        base64.StdEncoding.EncodeToString(mac),
	}, nil
}

// Decrypt recovers the plaintext from an EncryptedBlob, rejecting
// tampered or malformed input.
func (b *Box) Decrypt(blob Blob) ([]byte, error) {
	key, err := b.key()
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, ErrBadFormat
	}
	iv, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil || len(iv) != ivLength {
		return nil, ErrBadFormat
	}
	expectedMAC, err := base64.StdEncoding.DecodeString(blob.MAC)
	if err != nil {
		return nil, ErrBadFormat
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, ErrCryptoUnavailable
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, ErrBadFormat
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, block.BlockSize())
	if err != nil {
		// Length was already checked above, so bad padding here means the
		// ciphertext or IV was altered.
		return nil, ErrTampered
	}

	actualMAC := computeMAC(key, iv, plaintext)
	if subtle.ConstantTimeCompare(actualMAC, expectedMAC) != 1 {
		logrus.Warn("crypto: integrity tag mismatch on decrypt")
		return nil, ErrTampered
	}

	return plaintext, nil
}

// computeMAC reproduces the source's integrity tag: SHA256(key || iv || plaintext).
func computeMAC(key [32]byte, iv, plaintext []byte) []byte {
	h := sha256.New()
	h.Write(key[:])
	h.Write(iv)
	h.Write(plaintext)
	return h.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrBadFormat
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrBadFormat
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrBadFormat
		}
	}
	return data[:len(data)-padLen], nil
}
