package policy

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxRolesPerUser       = 32
	DefaultMaxPermissionsPerRole = 256
)

// BusinessHours defines the weekday window used by BusinessHoursOnly.
type BusinessHours struct {
	StartHour int
	EndHour   int
	Days      []time.Weekday
}

// DefaultBusinessHours is Monday to Friday, 09:00 to 17:00.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		StartHour: 9,
		EndHour:   17,
		Days:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

func (b BusinessHours) contains(t time.Time) bool {
	return slices.Contains(b.Days, t.Weekday()) && t.Hour() >= b.StartHour && t.Hour() < b.EndHour
}

// Engine resolves access decisions over a Repository. It is read-only and
// safe for concurrent use.
type Engine struct {
	repo     Repository
	registry *Registry
	location LocationPolicy
	zone     *time.Location
	hours    BusinessHours
	maxRoles int
	maxPerms int
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry makes Check deny unknown resources without touching the repository.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithLocationPolicy replaces the permissive default location gate.
func WithLocationPolicy(p LocationPolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.location = p
		}
	}
}

// WithTimeZone sets the zone time restrictions are evaluated in.
func WithTimeZone(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.zone = loc
		}
	}
}

func WithBusinessHours(b BusinessHours) Option {
	return func(e *Engine) { e.hours = b }
}

// WithFanOutLimits caps roles per user and permissions per role. Values <= 0 keep the defaults.
func WithFanOutLimits(maxRoles, maxPerms int) Option {
	return func(e *Engine) {
		if maxRoles > 0 {
			e.maxRoles = maxRoles
		}
		if maxPerms > 0 {
			e.maxPerms = maxPerms
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine builds an Engine over repo.
func NewEngine(repo Repository, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("policy repository required")
	}
	e := &Engine{
		repo:     repo,
		location: PermissiveLocationPolicy{},
		zone:     time.UTC,
		hours:    DefaultBusinessHours(),
		maxRoles: DefaultMaxRolesPerUser,
		maxPerms: DefaultMaxPermissionsPerRole,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.hours.StartHour < 0 || e.hours.EndHour > 24 || e.hours.StartHour >= e.hours.EndHour {
		return nil, errors.New("policy business hours must satisfy 0 <= start < end <= 24")
	}
	return e, nil
}

// Check decides whether userID may perform action on resource.
//
// Every active assignment is considered; within each role, permissions are
// tried in order. A permission matches on resource and action and must then
// pass the condition, time and location gates. The first permission that
// passes grants access. There is no explicit deny.
//
// Repository failures deny and are returned as the error.
func (e *Engine) Check(ctx context.Context, userID, resource, action string, req *Request) (Decision, error) {
	if req == nil {
		req = &Request{}
	}
	at := req.Timestamp
	if at.IsZero() {
		at = e.now()
	}

	d := Decision{
		UserID:      userID,
		Resource:    resource,
		Action:      action,
		EvaluatedAt: at,
	}

	if e.registry != nil && !e.registry.Known(resource) {
		d.Reason = DenyUnknownResource
		e.logDecision(d)
		return d, nil
	}

	assignments, err := e.repo.ListActiveUserRoles(ctx, userID, at)
	if err != nil {
		d.Reason = DenyNoRoles
		e.logger.Error("access check failed",
			zap.String("user_id", userID),
			zap.String("resource", resource),
			zap.String("action", action),
			zap.Error(err),
		)
		return d, err
	}
	assignments = e.capRoles(userID, assignments, at)
	d.RolesEvaluated = len(assignments)
	if len(assignments) == 0 {
		d.Reason = DenyNoRoles
		e.logDecision(d)
		return d, nil
	}

	local := at.In(e.zone)
	d.Reason = DenyNoMatch
	for _, ur := range assignments {
		role, err := e.repo.GetRoleWithPermissions(ctx, ur.RoleID)
		if err != nil {
			if errors.Is(err, ErrRoleNotFound) {
				e.logger.Warn("assigned role missing",
					zap.String("user_id", userID),
					zap.String("role_id", ur.RoleID),
				)
				continue
			}
			e.logger.Error("access check failed",
				zap.String("user_id", userID),
				zap.String("role_id", ur.RoleID),
				zap.Error(err),
			)
			d.Reason = DenyNoMatch
			return d, err
		}

		perms := role.Permissions
		if len(perms) > e.maxPerms {
			e.logger.Warn("role permission fan-out capped",
				zap.String("role_id", role.ID),
				zap.Int("permissions", len(perms)),
				zap.Int("limit", e.maxPerms),
			)
			perms = perms[:e.maxPerms]
		}

		for i := range perms {
			p := &perms[i]
			if p.Resource != resource || !p.Allows(action) {
				continue
			}
			if reason, ok := e.evaluateGates(userID, role, p, req, local); !ok {
				// Keep the first gate failure for the log; later matches may still grant.
				if d.Reason == DenyNoMatch {
					d.Reason = reason
				}
				continue
			}

			d.Allowed = true
			d.Reason = ""
			d.RoleID = role.ID
			d.RoleName = role.Name
			d.PermissionID = p.ID
			d.PermissionName = p.Name
			e.logDecision(d)
			return d, nil
		}
	}

	e.logDecision(d)
	return d, nil
}

// Allowed is Check reduced to a boolean. Errors deny.
func (e *Engine) Allowed(ctx context.Context, userID, resource, action string, req *Request) bool {
	d, err := e.Check(ctx, userID, resource, action, req)
	return err == nil && d.Allowed
}

func (e *Engine) evaluateGates(userID string, role *Role, p *Permission, req *Request, local time.Time) (DenyReason, bool) {
	if reason, ok := conditionGate(userID, p.Condition, req); !ok {
		return reason, false
	}
	if !e.timeGate(role, p.Time, req, local) {
		return DenyOutsideTimeWindow, false
	}
	if p.Location != nil && !e.location.Allowed(req.IP, p.Location) {
		return DenyLocation, false
	}
	return "", true
}

func conditionGate(userID string, c *AccessCondition, req *Request) (DenyReason, bool) {
	if c == nil {
		return "", true
	}
	if c.EmergencyOnly && !req.EmergencyAccess {
		return DenyEmergencyOnly, false
	}
	if c.RequireMFA && (req.Session == nil || !req.Session.MFAVerified) {
		return DenySessionRequirements, false
	}
	if c.MinSecurityLevel > 0 && (req.Session == nil || req.Session.SecurityLevel < c.MinSecurityLevel) {
		return DenySessionRequirements, false
	}

	t := req.Target
	if t == nil {
		return "", true
	}
	switch c.ClientScope {
	case ScopeOwn:
		if t.OwnerID != userID {
			return DenyOutOfScope, false
		}
	case ScopeAssigned:
		if t.OwnerID != userID && !slices.Contains(t.AssignedTo, userID) {
			return DenyOutOfScope, false
		}
	}
	if len(c.DepartmentScope) > 0 && t.Department != "" && !slices.Contains(c.DepartmentScope, t.Department) {
		return DenyOutOfScope, false
	}
	if len(c.DataScope) > 0 && t.DataCategory != "" && !slices.Contains(c.DataScope, t.DataCategory) {
		return DenyOutOfScope, false
	}
	return "", true
}

// timeGate applies a TimeRestriction. An emergency request bypasses it only
// when the restriction carries EmergencyOverride or the role does; the role
// flag stands for the flag on each of its restrictions. Without a declared
// emergency neither flag has any effect.
func (e *Engine) timeGate(role *Role, r *TimeRestriction, req *Request, local time.Time) bool {
	if r == nil {
		return true
	}
	if req.EmergencyAccess && (r.EmergencyOverride || role.EmergencyOverride) {
		return true
	}
	if r.BusinessHoursOnly && !e.hours.contains(local) {
		return false
	}
	if len(r.AllowedDays) > 0 && !slices.Contains(r.AllowedDays, local.Weekday()) {
		return false
	}
	if r.AllowedHours != nil && !r.AllowedHours.Contains(local.Hour()) {
		return false
	}
	return true
}

func (e *Engine) capRoles(userID string, assignments []UserRole, at time.Time) []UserRole {
	effective := assignments[:0:0]
	for _, ur := range assignments {
		if ur.Effective(at) && ur.UserID == userID {
			effective = append(effective, ur)
		}
	}
	if len(effective) > e.maxRoles {
		e.logger.Warn("user role fan-out capped",
			zap.String("user_id", userID),
			zap.Int("roles", len(effective)),
			zap.Int("limit", e.maxRoles),
		)
		effective = effective[:e.maxRoles]
	}
	return effective
}

func (e *Engine) logDecision(d Decision) {
	fields := []zap.Field{
		zap.String("user_id", d.UserID),
		zap.String("resource", d.Resource),
		zap.String("action", d.Action),
		zap.String("role", d.RoleName),
		zap.String("permission", d.PermissionName),
		zap.Int("roles_evaluated", d.RolesEvaluated),
	}
	if d.Allowed {
		e.logger.Info("access granted", fields...)
		return
	}
	e.logger.Warn("access denied", append(fields, zap.String("reason", string(d.Reason)))...)
}

// Grant is one entry of a user's effective permission set.
type Grant struct {
	RoleID         string
	RoleName       string
	PermissionName string
	Resource       string
	Actions        []string
	Restricted     bool
}

// EffectivePermissions lists every permission the user holds through active
// roles, in resolution order. Gates are not evaluated; Restricted marks
// permissions that carry any.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string) ([]Grant, error) {
	at := e.now()
	assignments, err := e.repo.ListActiveUserRoles(ctx, userID, at)
	if err != nil {
		return nil, err
	}
	assignments = e.capRoles(userID, assignments, at)

	var grants []Grant
	for _, ur := range assignments {
		role, err := e.repo.GetRoleWithPermissions(ctx, ur.RoleID)
		if err != nil {
			if errors.Is(err, ErrRoleNotFound) {
				continue
			}
			return nil, err
		}
		perms := role.Permissions
		if len(perms) > e.maxPerms {
			perms = perms[:e.maxPerms]
		}
		for _, p := range perms {
			grants = append(grants, Grant{
				RoleID:         role.ID,
				RoleName:       role.Name,
				PermissionName: p.Name,
				Resource:       p.Resource,
				Actions:        slices.Clone(p.Actions),
				Restricted:     p.Condition != nil || p.Time != nil || p.Location != nil,
			})
		}
	}
	return grants, nil
}
