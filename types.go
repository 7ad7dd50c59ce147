package phiguard

import (
	"github.com/MrEthical07/phiguard/phi"
	"github.com/MrEthical07/phiguard/policy"
	"github.com/MrEthical07/phiguard/session"
)

// Session types re-exported so callers need only this package for the
// common paths.
type (
	DeviceInfo           = session.DeviceInfo
	CreateSessionRequest = session.CreateRequest
	CreateSessionResult  = session.CreateResult
	SessionValidation    = session.ValidationResult
	Session              = session.Session
	SessionState         = session.State
)

// Terminal session states accepted by TerminateSession.
const (
	StateLoggedOut = session.StateLoggedOut
	StateRevoked   = session.StateRevoked
)

// Access-check types.
type (
	// AccessRequest is optional per-call context. Fields left empty are
	// filled from the request context (see WithClientIP and friends).
	AccessRequest  = policy.Request
	AccessTarget   = policy.Target
	AccessDecision = policy.Decision
	Grant          = policy.Grant
)

// Protected is a ciphertext and its search hash, ready to store.
type Protected = phi.Protected
