package crypto

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for master key derivation. These mirror the defaults
// the teacher stack already uses for its own KDF (time=1, memory=64MiB,
// threads=4) rather than inventing new tuning constants.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4

	SaltSize = 16
)

// NewSalt generates a fresh random salt for a new store.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, ErrCryptoFailure
	}
	return salt, nil
}

// DeriveMasterKey expands a password and the store's salt into a KeySize
// master key via Argon2id. This is deterministic: the same password and
// salt always yield the same key, which is what lets unlock verify a
// password by attempting to decrypt existing envelopes rather than storing
// the key or a verifier anywhere.
func DeriveMasterKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, KeySize)
}
