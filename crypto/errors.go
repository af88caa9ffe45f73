package crypto

import "errors"

var (
	// ErrCryptoUnavailable is returned by Encrypt, Decrypt, Sign or RandomID
	// when the key provider or the random source fails.
	ErrCryptoUnavailable = errors.New("crypto: unavailable")
	// ErrBadFormat is returned by Decrypt when the blob's ciphertext or IV
	// cannot be base64-decoded, the IV is not 16 bytes, or the ciphertext
	// is empty or not a whole number of blocks.
	ErrBadFormat = errors.New("crypto: malformed encrypted blob")
	// ErrTampered is returned by Decrypt when the padding is invalid after
	// decryption or the recomputed MAC does not match the blob's MAC.
	ErrTampered = errors.New("crypto: integrity tag mismatch")
)
