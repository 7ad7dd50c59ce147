package policy

import (
	"slices"
	"time"
)

// Category groups roles by organizational function.
type Category string

const (
	CategoryClinical       Category = "clinical"
	CategoryAdministrative Category = "administrative"
	CategoryTechnical      Category = "technical"
	CategoryExecutive      Category = "executive"
)

// AccessLevel is the HIPAA minimum-necessary tier of a role.
type AccessLevel string

const (
	AccessMinimal        AccessLevel = "minimal"
	AccessLimited        AccessLevel = "limited"
	AccessFull           AccessLevel = "full"
	AccessAdministrative AccessLevel = "administrative"
)

// ClientScope limits which client records a permission reaches.
type ClientScope string

const (
	ScopeOwn      ClientScope = "own"
	ScopeAssigned ClientScope = "assigned"
	ScopeAll      ClientScope = "all"
)

// AccessCondition is the first gate applied to a matching permission.
type AccessCondition struct {
	DataScope       []string    `json:"data_scope,omitempty"`
	ClientScope     ClientScope `json:"client_scope,omitempty"`
	DepartmentScope []string    `json:"department_scope,omitempty"`
	EmergencyOnly   bool        `json:"emergency_only,omitempty"`

	RequireMFA       bool `json:"require_mfa,omitempty"`
	MinSecurityLevel int  `json:"min_security_level,omitempty"`
}

// HourRange is a half-open range of hours [Start, End). Start > End wraps midnight.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether hour falls in the range.
func (r HourRange) Contains(hour int) bool {
	if r.Start == r.End {
		return true
	}
	if r.Start < r.End {
		return hour >= r.Start && hour < r.End
	}
	return hour >= r.Start || hour < r.End
}

// TimeRestriction is the second gate applied to a matching permission.
type TimeRestriction struct {
	BusinessHoursOnly bool           `json:"business_hours_only,omitempty"`
	AllowedHours      *HourRange     `json:"allowed_hours,omitempty"`
	AllowedDays       []time.Weekday `json:"allowed_days,omitempty"`
	EmergencyOverride bool           `json:"emergency_override,omitempty"`
}

// LocationRestriction is the third gate, delegated to a LocationPolicy.
type LocationRestriction struct {
	AllowedIPs           []string `json:"allowed_ips,omitempty"`
	BlockedIPs           []string `json:"blocked_ips,omitempty"`
	RequireSecureNetwork bool     `json:"require_secure_network,omitempty"`
}

// Permission grants actions on one resource, subject to its gates.
type Permission struct {
	ID        string
	Name      string
	Resource  string
	Actions   []string
	Condition *AccessCondition
	Time      *TimeRestriction
	Location  *LocationRestriction
}

// Allows reports whether action is listed on p.
func (p *Permission) Allows(action string) bool {
	return slices.Contains(p.Actions, action)
}

// Role is a named, ordered set of permissions.
type Role struct {
	ID                string
	Name              string
	Category          Category
	AccessLevel       AccessLevel
	// EmergencyOverride lets declared emergency requests skip the time
	// restrictions of every permission in this role, as if each restriction
	// set its own EmergencyOverride.
	EmergencyOverride bool
	Permissions       []Permission
}

// Clone returns a deep copy so callers can hold a stable snapshot.
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	out := *r
	out.Permissions = make([]Permission, len(r.Permissions))
	for i, p := range r.Permissions {
		out.Permissions[i] = p.clone()
	}
	return &out
}

func (p Permission) clone() Permission {
	out := p
	out.Actions = slices.Clone(p.Actions)
	if p.Condition != nil {
		c := *p.Condition
		c.DataScope = slices.Clone(c.DataScope)
		c.DepartmentScope = slices.Clone(c.DepartmentScope)
		out.Condition = &c
	}
	if p.Time != nil {
		t := *p.Time
		t.AllowedDays = slices.Clone(t.AllowedDays)
		if p.Time.AllowedHours != nil {
			h := *p.Time.AllowedHours
			t.AllowedHours = &h
		}
		out.Time = &t
	}
	if p.Location != nil {
		l := *p.Location
		l.AllowedIPs = slices.Clone(l.AllowedIPs)
		l.BlockedIPs = slices.Clone(l.BlockedIPs)
		out.Location = &l
	}
	return out
}

// UserRole assigns a role to a user. A (UserID, RoleID) pair is unique;
// revoked or expired assignments are kept for audit.
type UserRole struct {
	ID         string
	UserID     string
	RoleID     string
	AssignedBy string
	AssignedAt time.Time
	ExpiresAt  *time.Time
	Active     bool
}

// Effective reports whether the assignment counts at time at.
func (ur UserRole) Effective(at time.Time) bool {
	if !ur.Active {
		return false
	}
	return ur.ExpiresAt == nil || at.Before(*ur.ExpiresAt)
}
