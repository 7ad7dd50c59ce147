package session

import (
	"context"
	"time"
)

// UpdateFunc mutates a session inside a store transaction. Returning an
// error aborts the update and is passed through to the caller.
type UpdateFunc func(s *Session) error

// Store persists sessions.
//
// Implementations must make Update and Deactivate atomic per session so that
// a deactivated record is never overwritten by a stale active copy.
type Store interface {
	// Get returns the session for id, or ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Save inserts or replaces a session.
	Save(ctx context.Context, s *Session) error
	// ListActiveByUser returns the user's active sessions in unspecified order.
	ListActiveByUser(ctx context.Context, userID string) ([]*Session, error)
	// Update applies fn to the current record and persists the result.
	Update(ctx context.Context, sessionID string, fn UpdateFunc) (*Session, error)
	// Deactivate moves an active session to state. It reports whether this
	// call performed the transition; already-inactive sessions return false, nil.
	Deactivate(ctx context.Context, sessionID string, state State, at time.Time) (bool, error)
	// LockUser serializes admission for one user. The returned func releases the lock.
	LockUser(ctx context.Context, userID string) (func(), error)
}

func deactivateFunc(state State, at time.Time, changed *bool) UpdateFunc {
	return func(s *Session) error {
		*changed = s.deactivate(state, at)
		return nil
	}
}
