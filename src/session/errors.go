package session

import "errors"

var (
	// ErrLocked means the session is in the Locked (or Fresh) state and the
	// requested operation requires Unlocked.
	ErrLocked = errors.New("cipherpad: vault is locked")

	// ErrAlreadyUnlocked means unlock was called while already Unlocked.
	ErrAlreadyUnlocked = errors.New("cipherpad: vault is already unlocked")

	// ErrRateLimited means unlock was attempted while the failed-attempt
	// lockout window is active; the attempt is rejected before any key
	// derivation runs.
	ErrRateLimited = errors.New("cipherpad: too many failed unlock attempts")
)
