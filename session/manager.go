package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/phiguard/internal"
	"go.uber.org/zap"
)

// Reason explains why a validation failed.
type Reason string

const (
	ReasonNotFound    Reason = "SESSION_NOT_FOUND"
	ReasonExpired     Reason = "SESSION_EXPIRED"
	ReasonIdleTimeout Reason = "IDLE_TIMEOUT"
)

// Policy holds the lifecycle parameters of a Manager.
type Policy struct {
	MaxConcurrent int
	MaxLifetime   time.Duration
	IdleTimeout   time.Duration
	// ReauthAfter marks non-MFA sessions older than this as needing re-authentication.
	ReauthAfter time.Duration
	// ExtensionCeiling caps ExpiresAt at CreatedAt + ExtensionCeiling.
	ExtensionCeiling time.Duration
	// RequireMFA makes Create report RequiresMFA for sessions without MFA.
	RequireMFA bool
	// LockWait bounds how long Create waits for the per-user lock.
	LockWait time.Duration
}

// DefaultPolicy returns 3 concurrent sessions, 4h lifetime, 30m idle timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxConcurrent:    3,
		MaxLifetime:      4 * time.Hour,
		IdleTimeout:      30 * time.Minute,
		ReauthAfter:      4 * time.Hour,
		ExtensionCeiling: 12 * time.Hour,
		RequireMFA:       true,
		LockWait:         2 * time.Second,
	}
}

// Validate checks that p is usable.
func (p Policy) Validate() error {
	if p.MaxConcurrent <= 0 {
		return errors.New("session MaxConcurrent must be > 0")
	}
	if p.MaxLifetime <= 0 {
		return errors.New("session MaxLifetime must be > 0")
	}
	if p.IdleTimeout <= 0 {
		return errors.New("session IdleTimeout must be > 0")
	}
	if p.ReauthAfter <= 0 {
		return errors.New("session ReauthAfter must be > 0")
	}
	if p.ExtensionCeiling < p.MaxLifetime {
		return errors.New("session ExtensionCeiling must be >= MaxLifetime")
	}
	if p.LockWait <= 0 {
		return errors.New("session LockWait must be > 0")
	}
	return nil
}

// CreateRequest describes a successful authentication.
type CreateRequest struct {
	UserID      string
	Device      DeviceInfo
	MFAVerified bool
	LoginMethod string
}

// CreateResult is returned by Manager.Create.
type CreateResult struct {
	SessionID              string
	ExpiresAt              time.Time
	RequiresMFA            bool
	SecurityLevel          int
	Trusted                bool
	ConcurrentSessionCount int
	// EvictedSessionIDs lists sessions deactivated to make room, oldest activity first.
	EvictedSessionIDs []string
	Session           *Session
}

// ValidationResult is the outcome of Manager.Validate. Invalid sessions are
// reported here, not as errors.
type ValidationResult struct {
	Valid          bool
	Reason         Reason
	Session        *Session
	TimeToExpiry   time.Duration
	RequiresReauth bool
}

// SecurityContext is the subset of a valid session consulted by access checks.
type SecurityContext struct {
	SessionID     string
	UserID        string
	SecurityLevel int
	MFAVerified   bool
	Trusted       bool
	LoginMethod   string
}

// SecurityContext returns nil unless the result is valid.
func (r *ValidationResult) SecurityContext() *SecurityContext {
	if r == nil || !r.Valid || r.Session == nil {
		return nil
	}
	return &SecurityContext{
		SessionID:     r.Session.ID,
		UserID:        r.Session.UserID,
		SecurityLevel: r.Session.SecurityLevel,
		MFAVerified:   r.Session.MFAVerified,
		Trusted:       r.Session.Trusted,
		LoginMethod:   r.Session.LoginMethod,
	}
}

// Manager issues, validates, extends and deactivates sessions.
type Manager struct {
	store   Store
	policy  Policy
	weights ScoringWeights
	locator Locator
	now     func() time.Time
	logger  *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithPolicy(p Policy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

func WithScoringWeights(w ScoringWeights) ManagerOption {
	return func(m *Manager) { m.weights = w }
}

// WithLocator sets the geolocation capability. Nil keeps NoopLocator.
func WithLocator(l Locator) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.locator = l
		}
	}
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager builds a Manager over store.
func NewManager(store Store, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store required")
	}
	m := &Manager{
		store:   store,
		policy:  DefaultPolicy(),
		weights: DefaultScoringWeights(),
		locator: NoopLocator{},
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.policy.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Policy returns the manager's lifecycle parameters.
func (m *Manager) Policy() Policy {
	return m.policy
}

// Create admits a new session for req.UserID. When the user is at the
// concurrency limit, active sessions are evicted least-recently-active first
// until there is room. The read-evict-insert sequence runs under the
// user's admission lock.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidRequest)
	}
	if len(req.UserID) > MaxIdentifierLen || len(req.LoginMethod) > MaxIdentifierLen {
		return nil, fmt.Errorf("%w: identifier longer than %d bytes", ErrInvalidRequest, MaxIdentifierLen)
	}
	req.Device = req.Device.clamped()

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	level := SecurityLevel(m.weights, req.MFAVerified, req.LoginMethod, req.Device)
	location := m.locate(ctx, req.Device.IPAddress)

	lockCtx, cancel := context.WithTimeout(ctx, m.policy.LockWait)
	unlock, err := m.store.LockUser(lockCtx, req.UserID)
	cancel()
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := m.now().UTC()

	active, err := m.store.ListActiveByUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	active, err = m.expireStale(ctx, active, now)
	if err != nil {
		return nil, err
	}

	sort.Slice(active, func(i, j int) bool {
		if !active[i].LastActivity.Equal(active[j].LastActivity) {
			return active[i].LastActivity.Before(active[j].LastActivity)
		}
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		}
		return active[i].ID < active[j].ID
	})

	var evicted []string
	for len(active) >= m.policy.MaxConcurrent {
		victim := active[0]
		active = active[1:]
		changed, err := m.store.Deactivate(ctx, victim.ID, StateEvicted, now)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		if changed {
			evicted = append(evicted, victim.ID)
			m.logger.Info("session evicted",
				zap.String("user_id", req.UserID),
				zap.String("session_id", victim.ID),
				zap.Time("last_activity", victim.LastActivity),
			)
		}
	}

	sess := &Session{
		ID:                sid.String(),
		UserID:            req.UserID,
		DeviceFingerprint: Fingerprint(req.Device),
		IPAddress:         req.Device.IPAddress,
		UserAgent:         req.Device.UserAgent,
		Location:          clampField(location),
		CreatedAt:         now,
		LastActivity:      now,
		ExpiresAt:         now.Add(m.policy.MaxLifetime),
		Active:            true,
		State:             StateActive,
		MFAVerified:       req.MFAVerified,
		LoginMethod:       req.LoginMethod,
		SecurityLevel:     level,
		Trusted:           IsTrusted(level),
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}

	return &CreateResult{
		SessionID:              sess.ID,
		ExpiresAt:              sess.ExpiresAt,
		RequiresMFA:            m.policy.RequireMFA && !req.MFAVerified,
		SecurityLevel:          level,
		Trusted:                sess.Trusted,
		ConcurrentSessionCount: len(active) + 1,
		EvictedSessionIDs:      evicted,
		Session:                sess.Clone(),
	}, nil
}

// Client-reported strings are bounded so every store can persist them.
const (
	MaxIdentifierLen  = 256
	MaxDeviceFieldLen = 512
)

// clamped truncates each device string to MaxDeviceFieldLen before the
// request is scored or fingerprinted.
func (d DeviceInfo) clamped() DeviceInfo {
	d.UserAgent = clampField(d.UserAgent)
	d.ScreenResolution = clampField(d.ScreenResolution)
	d.Timezone = clampField(d.Timezone)
	d.Language = clampField(d.Language)
	d.Platform = clampField(d.Platform)
	d.IPAddress = clampField(d.IPAddress)
	return d
}

// clampField cuts s to at most MaxDeviceFieldLen bytes without splitting a
// UTF-8 sequence.
func clampField(s string) string {
	if len(s) <= MaxDeviceFieldLen {
		return s
	}
	n := MaxDeviceFieldLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// expireStale deactivates sessions that are already past their hard or idle
// limit so they do not take an admission slot.
func (m *Manager) expireStale(ctx context.Context, sessions []*Session, now time.Time) ([]*Session, error) {
	live := sessions[:0]
	for _, s := range sessions {
		state, expired := m.expiry(s, now)
		if !expired {
			live = append(live, s)
			continue
		}
		if _, err := m.store.Deactivate(ctx, s.ID, state, now); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}
	return live, nil
}

func (m *Manager) expiry(s *Session, now time.Time) (State, bool) {
	if now.After(s.ExpiresAt) {
		return StateHardExpired, true
	}
	if now.Sub(s.LastActivity) > m.policy.IdleTimeout {
		return StateIdleExpired, true
	}
	return StateActive, false
}

// Validate checks a session and, when it is still good, records activity.
// Hard expiry is checked before idle timeout; either deactivates the session.
// The returned error is non-nil only for store failures.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*ValidationResult, error) {
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return &ValidationResult{Reason: ReasonNotFound}, nil
	}

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return &ValidationResult{Reason: ReasonNotFound}, nil
		}
		return nil, err
	}
	if !sess.Active {
		return &ValidationResult{Reason: ReasonNotFound}, nil
	}

	now := m.now().UTC()
	if state, expired := m.expiry(sess, now); expired {
		if _, err := m.store.Deactivate(ctx, sessionID, state, now); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		reason := ReasonIdleTimeout
		if state == StateHardExpired {
			reason = ReasonExpired
		}
		m.logger.Info("session validation failed",
			zap.String("session_id", sessionID),
			zap.String("user_id", sess.UserID),
			zap.String("reason", string(reason)),
		)
		return &ValidationResult{Reason: reason}, nil
	}

	updated, err := m.store.Update(ctx, sessionID, func(s *Session) error {
		if !s.Active {
			return ErrSessionInactive
		}
		s.LastActivity = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionInactive) || errors.Is(err, ErrSessionNotFound) {
			return &ValidationResult{Reason: ReasonNotFound}, nil
		}
		return nil, err
	}

	return &ValidationResult{
		Valid:          true,
		Session:        updated,
		TimeToExpiry:   updated.ExpiresAt.Sub(now),
		RequiresReauth: now.Sub(updated.CreatedAt) > m.policy.ReauthAfter && !updated.MFAVerified,
	}, nil
}

// Terminate deactivates one session with the given terminal state
// (StateLoggedOut when empty). Unknown and already-inactive sessions are a
// no-op; the bool reports whether this call changed anything.
func (m *Manager) Terminate(ctx context.Context, sessionID string, state State) (bool, error) {
	if state == "" {
		state = StateLoggedOut
	}
	if !state.Terminal() {
		return false, fmt.Errorf("%w: %q is not a terminal state", ErrInvalidRequest, state)
	}

	changed, err := m.store.Deactivate(ctx, sessionID, state, m.now().UTC())
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	return changed, nil
}

// TerminateAll deactivates every active session of userID except
// exceptSessionID and returns the ids it deactivated.
func (m *Manager) TerminateAll(ctx context.Context, userID, exceptSessionID string, state State) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidRequest)
	}
	if state == "" {
		state = StateLoggedOut
	}
	if !state.Terminal() {
		return nil, fmt.Errorf("%w: %q is not a terminal state", ErrInvalidRequest, state)
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.policy.LockWait)
	unlock, err := m.store.LockUser(lockCtx, userID)
	cancel()
	if err != nil {
		return nil, err
	}
	defer unlock()

	active, err := m.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	terminated := make([]string, 0, len(active))
	for _, s := range active {
		if s.ID == exceptSessionID {
			continue
		}
		changed, err := m.store.Deactivate(ctx, s.ID, state, now)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return terminated, err
		}
		if changed {
			terminated = append(terminated, s.ID)
		}
	}
	return terminated, nil
}

// Extend pushes ExpiresAt out by d, never past CreatedAt + ExtensionCeiling.
// The session must be active and unexpired.
func (m *Manager) Extend(ctx context.Context, sessionID string, d time.Duration) (*Session, error) {
	if d <= 0 {
		return nil, fmt.Errorf("%w: extension must be > 0", ErrInvalidRequest)
	}

	now := m.now().UTC()
	var expiredState State
	updated, err := m.store.Update(ctx, sessionID, func(s *Session) error {
		if !s.Active {
			return ErrSessionInactive
		}
		if state, expired := m.expiry(s, now); expired {
			expiredState = state
			return ErrSessionInactive
		}
		next := s.ExpiresAt.Add(d)
		if ceiling := s.CreatedAt.Add(m.policy.ExtensionCeiling); next.After(ceiling) {
			next = ceiling
		}
		s.ExpiresAt = next
		return nil
	})
	if err != nil {
		if expiredState != "" {
			if _, derr := m.store.Deactivate(ctx, sessionID, expiredState, now); derr != nil && !errors.Is(derr, ErrSessionNotFound) {
				return nil, derr
			}
		}
		return nil, err
	}
	return updated, nil
}

// ActiveSessions lists the user's active sessions, most recent activity first.
func (m *Manager) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	sessions, err := m.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	active := sessions[:0]
	for _, s := range sessions {
		if _, expired := m.expiry(s, now); !expired {
			active = append(active, s)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastActivity.After(active[j].LastActivity)
	})
	return active, nil
}

func (m *Manager) locate(ctx context.Context, ip string) *Location {
	if ip == "" {
		return nil
	}
	loc, err := m.locator.Locate(ctx, ip)
	if err != nil {
		if errors.Is(err, ErrLocationUnavailable) {
			m.logger.Debug("session location unavailable", zap.String("ip", ip))
		} else {
			m.logger.Warn("session location lookup failed", zap.String("ip", ip), zap.Error(err))
		}
		return nil
	}
	return loc
}
