package session

import "time"

// State is the lifecycle state of a session. Every state other than
// StateActive is terminal.
type State string

const (
	StateActive      State = "active"
	StateIdleExpired State = "idle_expired"
	StateHardExpired State = "hard_expired"
	StateLoggedOut   State = "logged_out"
	StateEvicted     State = "evicted"
	StateRevoked     State = "revoked"
)

// Terminal reports whether s is one of the inactive end states.
func (s State) Terminal() bool {
	switch s {
	case StateIdleExpired, StateHardExpired, StateLoggedOut, StateEvicted, StateRevoked:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == StateActive || s.Terminal()
}

// Location is the coarse geolocation attached to a session when a Locator resolves one.
type Location struct {
	Country   string
	Region    string
	City      string
	Latitude  float64
	Longitude float64
}

// DeviceInfo is the client description supplied at login.
type DeviceInfo struct {
	UserAgent        string
	ScreenResolution string
	Timezone         string
	Language         string
	Platform         string
	IPAddress        string
	// SecureTransport is set when the login arrived over TLS from a managed network.
	SecureTransport bool
}

// Session is a persisted login. Sessions are deactivated, never deleted.
type Session struct {
	ID                string
	UserID            string
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
	Location          *Location

	CreatedAt     time.Time
	LastActivity  time.Time
	ExpiresAt     time.Time
	DeactivatedAt time.Time

	Active        bool
	State         State
	MFAVerified   bool
	LoginMethod   string
	SecurityLevel int
	Trusted       bool
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Location != nil {
		loc := *s.Location
		out.Location = &loc
	}
	return &out
}

func (s *Session) deactivate(state State, at time.Time) bool {
	if !s.Active || s.State.Terminal() {
		return false
	}
	s.Active = false
	s.State = state
	s.DeactivatedAt = at
	return true
}
