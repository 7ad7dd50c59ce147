// Package session implements the session lifecycle: admission under a
// per-user concurrency limit, validation with hard and idle expiry, extension
// under a ceiling, and idempotent termination.
//
// # States
//
// A session starts active and moves exactly once to one of idle_expired,
// hard_expired, logged_out, evicted or revoked. Records are never deleted;
// the terminal state and DeactivatedAt remain for audit.
//
// # Binary encoding
//
// [RedisStore] keeps each session as a compact versioned binary record (see
// [Encode]). String fields are uint16 length-prefixed and timestamps are
// big-endian Unix nanoseconds.
//
// # Architecture boundaries
//
// This package owns the [Manager], the [Store] contract and its Redis and
// in-memory implementations. It does NOT evaluate permissions or emit audit
// events; the phiguard Engine does that from the results returned here.
//
// # What this package must NOT do
//
//   - Import phiguard, policy or jwt (no upward imports).
//   - Physically delete session records.
//   - Reactivate a session once it has left the active state.
package session
