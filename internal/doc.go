// Package internal contains helper utilities that are private to phiguard:
// session-id entropy and device fingerprint hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - ids: monotonic ULID generation for audit event ids
//
// # What this package must NOT do
//
//   - Export types that appear in the public phiguard API.
//   - Be imported by any package outside the phiguard module.
package internal
