// Package policy decides access to PHI resources from role assignments.
//
// A user's effective permissions are the union of every active, unexpired
// role they hold. [Engine.Check] walks the roles in assignment order and
// each role's permissions in declaration order; the first permission that
// matches the resource and action and passes its condition, time and
// location gates grants access. There is no explicit deny.
//
// # Gates
//
// The condition gate covers emergency-only grants, MFA and minimum security
// level, and client, department and data scopes. Scope checks apply only
// when the request carries a [Target]. The time gate uses the engine's time
// zone; an emergency request passes it only when the restriction or the
// role sets EmergencyOverride. The location gate is delegated to a
// [LocationPolicy].
//
// # Architecture boundaries
//
// Roles and assignments come from a [Repository]. [MemoryRepository] serves
// tests and small deployments; [PostgresRepository] stores gate definitions
// as JSONB. The [Registry] is the closed set of resources and actions roles
// may reference.
//
// # What this package must NOT do
//
//   - Import phiguard, session or jwt.
//   - Grant access when the repository fails.
//   - Mutate repository state during a check.
package policy
