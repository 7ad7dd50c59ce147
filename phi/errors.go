package phi

import "errors"

var (
	// ErrKeyConfiguration is returned when the master key is missing, is not hex,
	// or does not decode to exactly 32 bytes. Callers must refuse to start.
	ErrKeyConfiguration = errors.New("phi: encryption key misconfigured")
	// ErrFormat is returned when a ciphertext does not match v<N>:<iv>:<tag>:<ct>.
	ErrFormat = errors.New("phi: malformed ciphertext")
	// ErrVersionMismatch is returned when a ciphertext was produced under another key version.
	ErrVersionMismatch = errors.New("phi: ciphertext key version mismatch")
	// ErrIntegrity is returned when authentication of a ciphertext fails.
	ErrIntegrity = errors.New("phi: ciphertext integrity check failed")
)
