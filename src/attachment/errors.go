package attachment

import "errors"

var (
	// ErrCorruptAttachment means the blob's declared shape does not match
	// its contents: the blob ends before the sizes sidecar or a chunk it
	// lists, or the decrypted sidecar is not a whole number of size fields.
	// A sidecar or chunk that fails to authenticate is reported as
	// crypto.ErrCryptoFailure instead.
	ErrCorruptAttachment = errors.New("cipherpad: corrupt attachment")

	// ErrFileTooLarge means the encrypted attachment would meet or exceed
	// MaxBlobSize once the sizes sidecar and all sealed chunks are summed.
	ErrFileTooLarge = errors.New("cipherpad: file too large")
)
