package session

import "errors"

var (
	// ErrSessionNotFound is returned by stores when no record exists for an id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInactive is returned when an operation requires an active session.
	ErrSessionInactive = errors.New("session inactive")
	// ErrStoreUnavailable wraps connectivity failures of the backing store.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrLockTimeout is returned when the per-user admission lock cannot be acquired in time.
	ErrLockTimeout = errors.New("session user lock timeout")
	// ErrLocationUnavailable is returned by a Locator that cannot resolve an address.
	ErrLocationUnavailable = errors.New("session location unavailable")
	// ErrInvalidRequest is returned for malformed manager inputs.
	ErrInvalidRequest = errors.New("invalid session request")
	// ErrSessionCorrupt is returned when a stored record cannot be decoded.
	ErrSessionCorrupt = errors.New("session record corrupt")
)
