package phiguard

import (
	"context"
	"errors"

	"github.com/MrEthical07/phiguard/internal/audit"
	"github.com/MrEthical07/phiguard/phi"
	"github.com/MrEthical07/phiguard/policy"
	"github.com/MrEthical07/phiguard/session"
)

const (
	auditEventSessionCreated       = "session_created"
	auditEventSessionEvicted       = "session_evicted"
	auditEventSessionValidated     = "session_validated"
	auditEventSessionInvalid       = "session_invalid"
	auditEventSessionTerminated    = "session_terminated"
	auditEventSessionTerminatedAll = "session_terminated_all"
	auditEventSessionExtended      = "session_extended"
	auditEventAccessGranted        = "access_granted"
	auditEventAccessDenied         = "access_denied"
	auditEventPHIDecryptFailed     = "phi_decrypt_failed"
	auditEventTokenRejected        = "session_token_rejected"
	auditEventRoleAssigned         = "role_assigned"
	auditEventRoleRevoked          = "role_revoked"
)

// AuditErrorCode is the stable error class recorded in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrSessionNotFound  AuditErrorCode = "session_not_found"
	auditErrSessionInactive  AuditErrorCode = "session_inactive"
	auditErrInvalidRequest   AuditErrorCode = "invalid_request"
	auditErrInvalidToken     AuditErrorCode = "invalid_token"
	auditErrLockTimeout      AuditErrorCode = "lock_timeout"
	auditErrDuplicate        AuditErrorCode = "duplicate"
	auditErrNotFound         AuditErrorCode = "not_found"
	auditErrCiphertextFormat AuditErrorCode = "ciphertext_format"
	auditErrKeyVersion       AuditErrorCode = "key_version_mismatch"
	auditErrIntegrity        AuditErrorCode = "integrity_failure"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

// auditRecord holds the optional fields of an event; zero values are omitted.
type auditRecord struct {
	userID    string
	sessionID string
	resource  string
	action    string
	reason    string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	rec auditRecord,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		EventType: eventType,
		UserID:    rec.userID,
		SessionID: rec.sessionID,
		IP:        clientIPFromContext(ctx),
		Resource:  rec.resource,
		Action:    rec.action,
		Success:   success,
		Reason:    rec.reason,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, session.ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionInactive), errors.Is(err, session.ErrSessionInactive):
		return auditErrSessionInactive
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, session.ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, session.ErrLockTimeout):
		return auditErrLockTimeout
	case errors.Is(err, policy.ErrDuplicateAssignment):
		return auditErrDuplicate
	case errors.Is(err, policy.ErrAssignmentNotFound), errors.Is(err, policy.ErrRoleNotFound):
		return auditErrNotFound
	case errors.Is(err, policy.ErrInvalidRole), errors.Is(err, policy.ErrUnknownResource), errors.Is(err, policy.ErrUnknownAction):
		return auditErrInvalidRequest
	case errors.Is(err, phi.ErrFormat):
		return auditErrCiphertextFormat
	case errors.Is(err, phi.ErrVersionMismatch):
		return auditErrKeyVersion
	case errors.Is(err, phi.ErrIntegrity):
		return auditErrIntegrity
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, session.ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
