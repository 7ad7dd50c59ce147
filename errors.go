package phiguard

import (
	"errors"

	"github.com/MrEthical07/phiguard/phi"
)

var (
	// ErrKeyConfiguration is fatal at Build: the PHI key is missing or malformed.
	ErrKeyConfiguration = phi.ErrKeyConfiguration
	// ErrAccessDenied is returned by Authorize when no permission grants the request.
	ErrAccessDenied = errors.New("access denied")
	// ErrSessionInvalid is returned when a session is expired, idle or terminated.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInactive is returned when extending a session that is no longer active.
	ErrSessionInactive = errors.New("session inactive")
	// ErrTokenInvalid is returned for malformed, expired or mismatched session tokens.
	ErrTokenInvalid = errors.New("session token invalid")
	// ErrTokensDisabled is returned by token operations when no token manager is configured.
	ErrTokensDisabled = errors.New("session tokens disabled")
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidRequest is returned for missing identifiers and out-of-range arguments.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRolesReadOnly is returned by role administration when the policy
	// repository does not support writes.
	ErrRolesReadOnly = errors.New("policy repository is read-only")
	// ErrStoreUnavailable wraps session store and policy repository failures.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)
