// Package phiguard protects protected health information (PHI) in a
// behavioral-health practice backend. It combines three components behind
// one [Engine]:
//
//   - field encryption of PHI values with versioned AES-256-GCM envelopes and
//     keyed search hashes (package phi),
//   - a session lifecycle manager with per-user concurrency limits, idle and
//     hard expiry, and a device-derived security level (package session),
//   - a role-based access policy engine with condition, time and location
//     gates and emergency access (package policy).
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Every session transition, access decision and PHI decrypt
// failure is emitted to the configured [AuditSink] and counted in [Metrics].
//
// # Architecture boundaries
//
// phiguard is the composition layer. It owns configuration ([Config],
// [LoadConfig]), audit, metrics and logging; the component packages know
// nothing of each other and are usable on their own. Redis and Postgres
// backends are optional: without them sessions and roles live in process
// memory.
//
// # What this package must NOT do
//
//   - Start without a valid PHI key. [Builder.Build] fails with
//     [ErrKeyConfiguration] instead.
//   - Turn a repository or store failure into an allow decision.
//   - Put plaintext PHI in logs or audit events.
package phiguard
