package policy

import "errors"

var (
	ErrRoleNotFound        = errors.New("policy: role not found")
	ErrUnknownResource     = errors.New("policy: unknown resource")
	ErrUnknownAction       = errors.New("policy: unknown action")
	ErrRegistryFrozen      = errors.New("policy: registry frozen")
	ErrDuplicateAssignment = errors.New("policy: user already holds role")
	ErrAssignmentNotFound  = errors.New("policy: role assignment not found")
	ErrInvalidRole         = errors.New("policy: invalid role")
)
