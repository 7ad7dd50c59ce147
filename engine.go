package phiguard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/phiguard/internal/audit"
	"github.com/MrEthical07/phiguard/jwt"
	"github.com/MrEthical07/phiguard/phi"
	"github.com/MrEthical07/phiguard/policy"
	"github.com/MrEthical07/phiguard/session"
	"go.uber.org/zap"
)

// Engine composes the PHI codec, the session lifecycle manager and the
// access policy engine, and reports every security-relevant outcome to the
// audit sink and metrics. It is safe for concurrent use.
type Engine struct {
	config   Config
	logger   *zap.Logger
	codec    *phi.Codec
	sessions *session.Manager
	policy   *policy.Engine
	roles    roleAdmin
	tokens   *jwt.Manager
	audit    *audit.Dispatcher
	metrics  *Metrics

	closers   []func() error
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Close flushes pending audit events and releases backends the Engine opened.
// Afterwards every operation returns ErrEngineNotReady.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.audit != nil {
			e.audit.Close()
		}
		e.closeErr = e.runClosers()
		_ = e.logger.Sync()
	})
	return e.closeErr
}

// unavailable reports a nil or closed Engine.
func (e *Engine) unavailable() bool {
	return e == nil || e.closed.Load()
}

func (e *Engine) runClosers() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// AuditDropped reports events discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the Engine was built with.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Codec exposes the PHI codec for repositories that encrypt columns directly.
func (e *Engine) Codec() *phi.Codec {
	return e.codec
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

/*
====================================
SESSIONS
====================================
*/

// CreateSession admits a session after the caller has authenticated the
// user. Device IP and user agent default to the values attached to ctx.
// Sessions evicted to respect the concurrency limit are listed in the result.
func (e *Engine) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error) {
	if e.unavailable() || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if req.Device.IPAddress == "" {
		req.Device.IPAddress = clientIPFromContext(ctx)
	}
	if req.Device.UserAgent == "" {
		req.Device.UserAgent = userAgentFromContext(ctx)
	}

	res, err := e.sessions.Create(ctx, req)
	if err != nil {
		err = mapSessionError(err)
		e.logger.Warn("session create failed", zap.String("user_id", req.UserID), zap.Error(err))
		e.emitAudit(ctx, auditEventSessionCreated, false, auditRecord{userID: req.UserID}, err, nil)
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	if n := len(res.EvictedSessionIDs); n > 0 && e.metrics != nil {
		e.metrics.Add(MetricSessionEvicted, uint64(n))
	}
	for _, id := range res.EvictedSessionIDs {
		e.emitAudit(ctx, auditEventSessionEvicted, true, auditRecord{userID: req.UserID, sessionID: id}, nil, func() map[string]string {
			return map[string]string{"replaced_by": res.SessionID}
		})
	}
	e.emitAudit(ctx, auditEventSessionCreated, true, auditRecord{userID: req.UserID, sessionID: res.SessionID}, nil, func() map[string]string {
		return map[string]string{
			"login_method":        req.LoginMethod,
			"security_level":      strconv.Itoa(res.SecurityLevel),
			"trusted":             strconv.FormatBool(res.Trusted),
			"requires_mfa":        strconv.FormatBool(res.RequiresMFA),
			"concurrent_sessions": strconv.Itoa(res.ConcurrentSessionCount),
		}
	})

	return res, nil
}

// ValidateSession checks a session and records activity on it. Expired,
// idle and unknown sessions are reported in the result; the error is
// reserved for store failures.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (*SessionValidation, error) {
	if e.unavailable() || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	res, err := e.sessions.Validate(ctx, sessionID)
	e.metricObserve(MetricValidateLatency, time.Since(start))
	if err != nil {
		err = mapSessionError(err)
		e.logger.Error("session validation failed", zap.String("session_id", sessionID), zap.Error(err))
		e.emitAudit(ctx, auditEventSessionInvalid, false, auditRecord{sessionID: sessionID}, err, nil)
		return nil, err
	}

	if res.Valid {
		e.metricInc(MetricSessionValidated)
		e.emitAudit(ctx, auditEventSessionValidated, true, auditRecord{userID: res.Session.UserID, sessionID: sessionID}, nil, func() map[string]string {
			return map[string]string{"requires_reauth": strconv.FormatBool(res.RequiresReauth)}
		})
		return res, nil
	}

	e.metricInc(MetricSessionInvalid)
	switch res.Reason {
	case session.ReasonExpired:
		e.metricInc(MetricSessionHardExpired)
	case session.ReasonIdleTimeout:
		e.metricInc(MetricSessionIdleExpired)
	}
	e.emitAudit(ctx, auditEventSessionInvalid, false, auditRecord{sessionID: sessionID, reason: string(res.Reason)}, nil, nil)
	return res, nil
}

// TerminateSession ends one session with the terminal state given as the
// reason: StateLoggedOut for a user logout, StateRevoked for an
// administrative or security revocation. An empty state means
// StateLoggedOut. It reports whether this call deactivated the session;
// unknown or already inactive sessions return false.
func (e *Engine) TerminateSession(ctx context.Context, sessionID string, state SessionState) (bool, error) {
	if e.unavailable() || e.sessions == nil {
		return false, ErrEngineNotReady
	}
	if state == "" {
		state = StateLoggedOut
	}
	rec := auditRecord{sessionID: sessionID, reason: string(state)}

	changed, err := e.sessions.Terminate(ctx, sessionID, state)
	if err != nil {
		err = mapSessionError(err)
		e.emitAudit(ctx, auditEventSessionTerminated, false, rec, err, nil)
		return false, err
	}
	if changed {
		e.metricInc(MetricSessionTerminated)
		e.emitAudit(ctx, auditEventSessionTerminated, true, rec, nil, func() map[string]string {
			return map[string]string{"state": string(state)}
		})
	}
	return changed, nil
}

// TerminateAllSessions revokes every active session of userID except
// exceptSessionID, which may be empty. It returns the revoked ids.
func (e *Engine) TerminateAllSessions(ctx context.Context, userID, exceptSessionID string) ([]string, error) {
	if e.unavailable() || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	ids, err := e.sessions.TerminateAll(ctx, userID, exceptSessionID, session.StateRevoked)
	if err != nil {
		err = mapSessionError(err)
		e.emitAudit(ctx, auditEventSessionTerminatedAll, false, auditRecord{userID: userID}, err, nil)
		return ids, err
	}

	e.metricInc(MetricSessionTerminatedAll)
	e.emitAudit(ctx, auditEventSessionTerminatedAll, true, auditRecord{userID: userID, sessionID: exceptSessionID}, nil, func() map[string]string {
		return map[string]string{"terminated": strconv.Itoa(len(ids))}
	})
	return ids, nil
}

// ExtendSession pushes the session's hard expiry out by d, capped at the
// configured extension ceiling from creation.
func (e *Engine) ExtendSession(ctx context.Context, sessionID string, d time.Duration) (*Session, error) {
	if e.unavailable() || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	s, err := e.sessions.Extend(ctx, sessionID, d)
	if err != nil {
		err = mapSessionError(err)
		e.emitAudit(ctx, auditEventSessionExtended, false, auditRecord{sessionID: sessionID}, err, nil)
		return nil, err
	}

	e.metricInc(MetricSessionExtended)
	e.emitAudit(ctx, auditEventSessionExtended, true, auditRecord{userID: s.UserID, sessionID: sessionID}, nil, func() map[string]string {
		return map[string]string{"expires_at": s.ExpiresAt.UTC().Format(time.RFC3339)}
	})
	return s, nil
}

// ActiveSessions lists the user's live sessions, most recent activity first.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	if e.unavailable() || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	sessions, err := e.sessions.ActiveSessions(ctx, userID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	return sessions, nil
}

func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrInvalidRequest):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case errors.Is(err, session.ErrSessionNotFound):
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	case errors.Is(err, session.ErrSessionInactive):
		return fmt.Errorf("%w: %w", ErrSessionInactive, err)
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

/*
====================================
ACCESS CONTROL
====================================
*/

// CheckAccess decides whether userID may perform action on resource. req may
// be nil; empty IP, user agent, timestamp and the emergency flag are taken
// from ctx. Repository failures deny and return an error wrapping
// ErrStoreUnavailable.
func (e *Engine) CheckAccess(ctx context.Context, userID, resource, action string, req *AccessRequest) (AccessDecision, error) {
	if e.unavailable() || e.policy == nil {
		return AccessDecision{UserID: userID, Resource: resource, Action: action}, ErrEngineNotReady
	}

	r := e.accessRequest(ctx, req)
	start := time.Now()
	d, err := e.policy.Check(ctx, userID, resource, action, r)
	e.metricObserve(MetricAccessCheckLatency, time.Since(start))

	rec := auditRecord{userID: userID, resource: resource, action: action, reason: string(d.Reason)}
	if r.Session != nil {
		rec.sessionID = r.Session.SessionID
	}

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		e.metricInc(MetricAccessError)
		e.emitAudit(ctx, auditEventAccessDenied, false, rec, err, nil)
		return d, err
	}

	if !d.Allowed {
		e.metricInc(MetricAccessDenied)
		e.emitAudit(ctx, auditEventAccessDenied, false, rec, nil, func() map[string]string {
			return map[string]string{
				"emergency":       strconv.FormatBool(r.EmergencyAccess),
				"roles_evaluated": strconv.Itoa(d.RolesEvaluated),
			}
		})
		return d, nil
	}

	e.metricInc(MetricAccessGranted)
	if r.EmergencyAccess {
		e.metricInc(MetricEmergencyAccess)
		e.logger.Warn("emergency access granted",
			zap.String("user_id", userID),
			zap.String("resource", resource),
			zap.String("action", action),
			zap.String("permission", d.PermissionName),
		)
	}
	e.emitAudit(ctx, auditEventAccessGranted, true, rec, nil, func() map[string]string {
		return map[string]string{
			"role":       d.RoleName,
			"role_id":    d.RoleID,
			"permission": d.PermissionName,
			"emergency":  strconv.FormatBool(r.EmergencyAccess),
		}
	})
	return d, nil
}

// Authorize is CheckAccess reduced to an error: nil on allow, ErrAccessDenied
// on deny.
func (e *Engine) Authorize(ctx context.Context, userID, resource, action string, req *AccessRequest) error {
	d, err := e.CheckAccess(ctx, userID, resource, action, req)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("%w: %s", ErrAccessDenied, d.Reason)
	}
	return nil
}

// AuthorizeSession validates sessionID and checks access for its user with
// the session's MFA state and security level. target may be nil.
func (e *Engine) AuthorizeSession(ctx context.Context, sessionID, resource, action string, target *AccessTarget) (AccessDecision, error) {
	res, err := e.ValidateSession(ctx, sessionID)
	if err != nil {
		return AccessDecision{Resource: resource, Action: action}, err
	}
	if !res.Valid {
		return AccessDecision{Resource: resource, Action: action}, fmt.Errorf("%w: %s", ErrSessionInvalid, res.Reason)
	}
	return e.AuthorizeValidated(ctx, res, resource, action, target)
}

// AuthorizeValidated checks access for an already validated session.
func (e *Engine) AuthorizeValidated(ctx context.Context, res *SessionValidation, resource, action string, target *AccessTarget) (AccessDecision, error) {
	sc := res.SecurityContext()
	if sc == nil {
		return AccessDecision{Resource: resource, Action: action}, ErrSessionInvalid
	}

	d, err := e.CheckAccess(ctx, sc.UserID, resource, action, &AccessRequest{
		Session: &policy.SessionFacts{
			SessionID:     sc.SessionID,
			MFAVerified:   sc.MFAVerified,
			SecurityLevel: sc.SecurityLevel,
			Trusted:       sc.Trusted,
		},
		Target: target,
	})
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		return d, fmt.Errorf("%w: %s", ErrAccessDenied, d.Reason)
	}
	return d, nil
}

// EffectivePermissions lists every grant the user currently holds.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string) ([]Grant, error) {
	if e.unavailable() || e.policy == nil {
		return nil, ErrEngineNotReady
	}
	grants, err := e.policy.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return grants, nil
}

func (e *Engine) accessRequest(ctx context.Context, req *AccessRequest) *AccessRequest {
	var r AccessRequest
	if req != nil {
		r = *req
	}
	if r.IP == "" {
		r.IP = clientIPFromContext(ctx)
	}
	if r.UserAgent == "" {
		r.UserAgent = userAgentFromContext(ctx)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = requestTimeFromContext(ctx)
	}
	if emergencyFromContext(ctx) {
		r.EmergencyAccess = true
	}
	return &r
}

/*
====================================
PHI FIELDS
====================================
*/

// EncryptField encrypts one PHI value. Blank input yields "".
func (e *Engine) EncryptField(plaintext string) (string, error) {
	if e.unavailable() || e.codec == nil {
		return "", ErrEngineNotReady
	}
	out, err := e.codec.Encrypt(plaintext)
	if err == nil && out != "" {
		e.metricInc(MetricPHIEncrypt)
	}
	return out, err
}

// DecryptField decrypts one PHI value. Failures are audited and never fall
// back to the input.
func (e *Engine) DecryptField(ctx context.Context, ciphertext string) (string, error) {
	if e.unavailable() || e.codec == nil {
		return "", ErrEngineNotReady
	}
	out, err := e.codec.Decrypt(ciphertext)
	if err != nil {
		e.metricInc(MetricPHIDecryptFailure)
		e.emitAudit(ctx, auditEventPHIDecryptFailed, false, auditRecord{}, err, nil)
		return "", err
	}
	if ciphertext != "" {
		e.metricInc(MetricPHIDecrypt)
	}
	return out, nil
}

// ProtectField returns the ciphertext and search hash for one value.
func (e *Engine) ProtectField(plaintext string) (Protected, error) {
	if e.unavailable() || e.codec == nil {
		return Protected{}, ErrEngineNotReady
	}
	p, err := e.codec.Protect(plaintext)
	if err == nil && p.Ciphertext != "" {
		e.metricInc(MetricPHIEncrypt)
	}
	return p, err
}

// SearchHash returns the deterministic lookup hash of plaintext.
func (e *Engine) SearchHash(plaintext string) string {
	if e.unavailable() || e.codec == nil {
		return ""
	}
	return e.codec.SearchHash(plaintext)
}

/*
====================================
SESSION TOKENS
====================================
*/

// IssueSessionToken signs a handle for a valid session. The token expires no
// later than the session.
func (e *Engine) IssueSessionToken(ctx context.Context, sessionID string) (string, time.Time, error) {
	if e.unavailable() || e.sessions == nil {
		return "", time.Time{}, ErrEngineNotReady
	}
	if e.tokens == nil {
		return "", time.Time{}, ErrTokensDisabled
	}

	res, err := e.ValidateSession(ctx, sessionID)
	if err != nil {
		return "", time.Time{}, err
	}
	if !res.Valid {
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrSessionInvalid, res.Reason)
	}

	s := res.Session
	token, exp, err := e.tokens.Issue(s.ID, s.UserID, s.SecurityLevel, s.MFAVerified, s.ExpiresAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	e.metricInc(MetricTokenIssued)
	return token, exp, nil
}

// ResolveSessionToken verifies a token and re-validates the session it names.
// A token whose session is no longer valid is rejected with ErrSessionInvalid
// alongside the validation result.
func (e *Engine) ResolveSessionToken(ctx context.Context, token string) (*SessionValidation, error) {
	if e.unavailable() || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if e.tokens == nil {
		return nil, ErrTokensDisabled
	}

	claims, err := e.tokens.Parse(token)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		e.metricInc(MetricTokenRejected)
		e.emitAudit(ctx, auditEventTokenRejected, false, auditRecord{}, err, nil)
		return nil, err
	}

	res, err := e.ValidateSession(ctx, claims.SID)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return res, fmt.Errorf("%w: %s", ErrSessionInvalid, res.Reason)
	}
	if err := claims.Matches(res.Session.ID, res.Session.UserID); err != nil {
		err = fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		e.metricInc(MetricTokenRejected)
		e.emitAudit(ctx, auditEventTokenRejected, false, auditRecord{userID: claims.UID, sessionID: claims.SID}, err, nil)
		return nil, err
	}
	return res, nil
}
