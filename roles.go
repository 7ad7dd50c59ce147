package phiguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/phiguard/policy"
)

// roleAdmin is the write side of a policy repository.
type roleAdmin interface {
	Assign(ctx context.Context, ur policy.UserRole) (policy.UserRole, error)
	Revoke(ctx context.Context, userID, roleID string) error
}

type memoryRoles struct {
	repo *policy.MemoryRepository
}

func (m memoryRoles) Assign(_ context.Context, ur policy.UserRole) (policy.UserRole, error) {
	return m.repo.Assign(ur)
}

func (m memoryRoles) Revoke(_ context.Context, userID, roleID string) error {
	return m.repo.Revoke(userID, roleID)
}

func roleAdminFor(repo policy.Repository) roleAdmin {
	switch r := repo.(type) {
	case roleAdmin:
		return r
	case *policy.MemoryRepository:
		return memoryRoles{repo: r}
	default:
		return nil
	}
}

// AssignRole grants roleID to userID. expiresAt may be nil for a standing
// assignment. Assigning a role the user already effectively holds fails with
// policy.ErrDuplicateAssignment.
func (e *Engine) AssignRole(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) (policy.UserRole, error) {
	if e.unavailable() || e.policy == nil {
		return policy.UserRole{}, ErrEngineNotReady
	}
	if e.roles == nil {
		return policy.UserRole{}, ErrRolesReadOnly
	}
	if userID == "" || roleID == "" {
		return policy.UserRole{}, fmt.Errorf("%w: user id and role id required", ErrInvalidRequest)
	}

	ur, err := e.roles.Assign(ctx, policy.UserRole{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
	})
	rec := auditRecord{userID: userID}
	meta := func() map[string]string {
		return map[string]string{"role_id": roleID, "assigned_by": assignedBy}
	}
	if err != nil {
		if !isPolicyClientError(err) {
			err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		e.emitAudit(ctx, auditEventRoleAssigned, false, rec, err, meta)
		return policy.UserRole{}, err
	}
	e.emitAudit(ctx, auditEventRoleAssigned, true, rec, nil, meta)
	return ur, nil
}

// RevokeRole deactivates an assignment. The record is kept.
func (e *Engine) RevokeRole(ctx context.Context, userID, roleID string) error {
	if e.unavailable() || e.policy == nil {
		return ErrEngineNotReady
	}
	if e.roles == nil {
		return ErrRolesReadOnly
	}

	err := e.roles.Revoke(ctx, userID, roleID)
	if err != nil && !isPolicyClientError(err) {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, auditEventRoleRevoked, err == nil, auditRecord{userID: userID}, err, func() map[string]string {
		return map[string]string{"role_id": roleID}
	})
	return err
}

func isPolicyClientError(err error) bool {
	return errors.Is(err, policy.ErrDuplicateAssignment) ||
		errors.Is(err, policy.ErrAssignmentNotFound) ||
		errors.Is(err, policy.ErrRoleNotFound) ||
		errors.Is(err, policy.ErrInvalidRole)
}
