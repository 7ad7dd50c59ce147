// Package middleware adapts phiguard.Engine session and access checks to
// net/http.
//
// # Guards
//
//   - [RequireSession] validates the bearer session (or session token) and
//     stores the result in the request context.
//   - [RequireAccess] authorizes a resource and action for that session.
//
// Status codes: 401 for a missing or invalid session, 403 for a denial, 503
// when a backend is unavailable.
//
// # What this package must NOT do
//
//   - Make access decisions itself. Every decision comes from the Engine.
//   - Trust forwarding headers for the client address.
package middleware
