package crypto

import "errors"

// ErrCryptoFailure is the single opaque error returned for any envelope
// parse, derivation, or authentication failure. Callers must not branch on
// the underlying cause — distinguishing them would turn decryption into an
// oracle.
var ErrCryptoFailure = errors.New("cipherpad: crypto failure")
