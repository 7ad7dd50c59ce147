package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the read side the Engine resolves against.
type Repository interface {
	// ListActiveUserRoles returns the user's active assignments that have not
	// expired at time at.
	ListActiveUserRoles(ctx context.Context, userID string, at time.Time) ([]UserRole, error)
	// GetRoleWithPermissions returns a self-contained snapshot of the role,
	// or ErrRoleNotFound.
	GetRoleWithPermissions(ctx context.Context, roleID string) (*Role, error)
}

// MemoryRepository keeps roles and assignments in process.
type MemoryRepository struct {
	mu          sync.RWMutex
	registry    *Registry
	roles       map[string]*Role
	assignments map[string]map[string]UserRole
	now         func() time.Time
}

// NewMemoryRepository returns an empty repository. When registry is non-nil,
// PutRole rejects roles that reference unknown resources or actions.
func NewMemoryRepository(registry *Registry) *MemoryRepository {
	return &MemoryRepository{
		registry:    registry,
		roles:       make(map[string]*Role),
		assignments: make(map[string]map[string]UserRole),
		now:         time.Now,
	}
}

// PutRole inserts or replaces a role.
func (m *MemoryRepository) PutRole(role Role) error {
	if m.registry != nil {
		if err := m.registry.ValidateRole(&role); err != nil {
			return err
		}
	} else if role.ID == "" || role.Name == "" {
		return fmt.Errorf("%w: id and name required", ErrInvalidRole)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role.ID] = role.Clone()
	return nil
}

// Assign records a role assignment. An existing pair that is still effective
// is rejected; a revoked or expired pair is replaced in place.
func (m *MemoryRepository) Assign(ur UserRole) (UserRole, error) {
	if ur.UserID == "" || ur.RoleID == "" {
		return UserRole{}, fmt.Errorf("%w: user and role required", ErrInvalidRole)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[ur.RoleID]; !ok {
		return UserRole{}, ErrRoleNotFound
	}

	now := m.now()
	byRole, ok := m.assignments[ur.UserID]
	if !ok {
		byRole = make(map[string]UserRole)
		m.assignments[ur.UserID] = byRole
	}
	if existing, ok := byRole[ur.RoleID]; ok {
		if existing.Effective(now) {
			return UserRole{}, ErrDuplicateAssignment
		}
		ur.ID = existing.ID
	}
	if ur.ID == "" {
		ur.ID = uuid.NewString()
	}
	if ur.AssignedAt.IsZero() {
		ur.AssignedAt = now
	}
	ur.Active = true
	byRole[ur.RoleID] = ur
	return ur, nil
}

// Revoke deactivates an assignment and keeps it for audit.
func (m *MemoryRepository) Revoke(userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ur, ok := m.assignments[userID][roleID]
	if !ok {
		return ErrAssignmentNotFound
	}
	ur.Active = false
	m.assignments[userID][roleID] = ur
	return nil
}

// UserRoles returns every assignment for userID, effective or not.
func (m *MemoryRepository) UserRoles(userID string) []UserRole {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]UserRole, 0, len(m.assignments[userID]))
	for _, ur := range m.assignments[userID] {
		out = append(out, ur)
	}
	sortAssignments(out)
	return out
}

func (m *MemoryRepository) ListActiveUserRoles(ctx context.Context, userID string, at time.Time) ([]UserRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]UserRole, 0, len(m.assignments[userID]))
	for _, ur := range m.assignments[userID] {
		if ur.Effective(at) {
			out = append(out, ur)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (m *MemoryRepository) GetRoleWithPermissions(ctx context.Context, roleID string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.roles[roleID]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return role.Clone(), nil
}

func sortAssignments(urs []UserRole) {
	sort.Slice(urs, func(i, j int) bool {
		if !urs[i].AssignedAt.Equal(urs[j].AssignedAt) {
			return urs[i].AssignedAt.Before(urs[j].AssignedAt)
		}
		return urs[i].RoleID < urs[j].RoleID
	})
}
