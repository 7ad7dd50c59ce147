package session

import "github.com/MrEthical07/phiguard/internal"

// TrustedThreshold is the minimum security level for a session to be trusted.
const TrustedThreshold = 70

// ScoringWeights parameterizes SecurityLevel.
type ScoringWeights struct {
	Base                 int
	MFABonus             int
	SecureTransportBonus int
	StrongLoginBonus     int
	WeakLoginPenalty     int
	DeviceFieldBonus     int

	StrongLoginMethods []string
	WeakLoginMethods   []string
}

// DefaultScoringWeights returns the standard weights: base 50, +25 MFA,
// +10 secure transport, +15 strong login, -20 weak login, +5 per device field.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Base:                 50,
		MFABonus:             25,
		SecureTransportBonus: 10,
		StrongLoginBonus:     15,
		WeakLoginPenalty:     20,
		DeviceFieldBonus:     5,
		StrongLoginMethods:   []string{"sso", "webauthn", "smart_card"},
		WeakLoginMethods:     []string{"emergency", "magic_link", "remember_me"},
	}
}

// SecurityLevel scores a login in [0,100]. Screen resolution, timezone and
// language each add DeviceFieldBonus when present.
func SecurityLevel(w ScoringWeights, mfaVerified bool, loginMethod string, device DeviceInfo) int {
	level := w.Base
	if mfaVerified {
		level += w.MFABonus
	}
	if device.SecureTransport {
		level += w.SecureTransportBonus
	}

	switch {
	case containsMethod(w.StrongLoginMethods, loginMethod):
		level += w.StrongLoginBonus
	case containsMethod(w.WeakLoginMethods, loginMethod):
		level -= w.WeakLoginPenalty
	}

	for _, field := range []string{device.ScreenResolution, device.Timezone, device.Language} {
		if field != "" {
			level += w.DeviceFieldBonus
		}
	}

	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// IsTrusted reports whether level meets TrustedThreshold.
func IsTrusted(level int) bool {
	return level >= TrustedThreshold
}

// Fingerprint hashes the stable parts of a device description.
func Fingerprint(d DeviceInfo) string {
	return internal.DeviceFingerprint(d.UserAgent, d.ScreenResolution, d.Timezone, d.Language, d.Platform)
}

func containsMethod(methods []string, method string) bool {
	if method == "" {
		return false
	}
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}
