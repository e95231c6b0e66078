package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Envelope wire format:
//
//	nonce(12) ‖ info(16) ‖ AES-256-GCM(ciphertext ‖ tag(16))
//
// info is HKDF context, not an IV. A fresh info is drawn per envelope so
// every message gets its own sub-key off the master key; nonce reuse under
// that sub-key is then a non-issue because the sub-key is never reused.
const (
	NonceSize = 12
	InfoSize  = 16
	KeySize   = 32
	TagSize   = 16

	minEnvelopeSize = NonceSize + InfoSize + TagSize
)

// Seal encrypts plaintext under key (which must be KeySize bytes) and
// returns a self-describing envelope. Fresh nonce and info are generated
// per call.
func Seal(plaintext, key []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, ErrCryptoFailure
	}
	info := make([]byte, InfoSize)
	if _, err := io.ReadFull(rand.Reader, info); err != nil {
		return nil, ErrCryptoFailure
	}

	subKey, err := deriveSubKey(key, info)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(subKey)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, NonceSize+InfoSize+len(plaintext)+TagSize)
	out = append(out, nonce...)
	out = append(out, info...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Open authenticates and decrypts an envelope produced by Seal. Any parse,
// derivation, or authentication failure collapses to ErrCryptoFailure.
func Open(envelope, key []byte) ([]byte, error) {
	if len(envelope) < minEnvelopeSize {
		return nil, ErrCryptoFailure
	}

	nonce := envelope[:NonceSize]
	info := envelope[NonceSize : NonceSize+InfoSize]
	ciphertext := envelope[NonceSize+InfoSize:]

	subKey, err := deriveSubKey(key, info)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(subKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCryptoFailure
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrCryptoFailure
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrCryptoFailure
	}
	return gcm, nil
}

// deriveSubKey expands master key material into a fresh AES-256 key using
// HKDF-SHA-256 with an empty salt and info as context.
func deriveSubKey(masterKey, info []byte) ([]byte, error) {
	subKey, err := DeriveSubKey(masterKey, info)
	if err != nil {
		return nil, ErrCryptoFailure
	}
	return subKey, nil
}

// DeriveSubKey is the public entry point for §4.2's derive_subkey
// operation: HKDF-SHA-256(salt=nil, ikm=masterKey, info=info, L=KeySize).
func DeriveSubKey(masterKey, info []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterKey, nil, info)
	subKey := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, subKey); err != nil {
		return nil, ErrCryptoFailure
	}
	return subKey, nil
}
