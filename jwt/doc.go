// Package jwt issues and verifies signed session-handle tokens.
//
// A token names a session (sid), its user (uid) and the session's security
// level and MFA state at issue time. It is never trusted on its own: callers
// re-validate the referenced session before acting on it.
package jwt
