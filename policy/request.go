package policy

import "time"

// Request carries the per-call context of an access check. All of it is
// caller-supplied and untrusted; it can only satisfy gates that the policy
// data itself opens (EmergencyOnly, EmergencyOverride).
type Request struct {
	EmergencyAccess bool
	IP              string
	UserAgent       string
	// Timestamp is evaluated in the engine's time zone. Zero means now.
	Timestamp time.Time
	Session   *SessionFacts
	Target    *Target
}

// SessionFacts is what the engine needs to know about the caller's session.
type SessionFacts struct {
	SessionID     string
	MFAVerified   bool
	SecurityLevel int
	Trusted       bool
}

// Target describes the record being accessed, when known.
type Target struct {
	OwnerID      string
	AssignedTo   []string
	Department   string
	DataCategory string
}

// DenyReason names the gate that produced a denial.
type DenyReason string

const (
	DenyNoRoles             DenyReason = "no_active_roles"
	DenyUnknownResource     DenyReason = "unknown_resource"
	DenyNoMatch             DenyReason = "no_matching_permission"
	DenyEmergencyOnly       DenyReason = "emergency_only"
	DenySessionRequirements DenyReason = "session_requirements"
	DenyOutOfScope          DenyReason = "out_of_scope"
	DenyOutsideTimeWindow   DenyReason = "outside_time_window"
	DenyLocation            DenyReason = "location_restricted"
)

// Decision is the result of Engine.Check. On allow, the role and permission
// that granted access are set.
type Decision struct {
	Allowed  bool
	UserID   string
	Resource string
	Action   string

	RoleID         string
	RoleName       string
	PermissionID   string
	PermissionName string

	Reason      DenyReason
	EvaluatedAt time.Time
	// RolesEvaluated counts assignments considered after the fan-out cap.
	RolesEvaluated int
}
