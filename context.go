package phiguard

import (
	"context"
	"time"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type emergencyContextKey struct{}
type requestTimeContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine records it
// on sessions created without an explicit address, passes it to the location
// gate and stamps it on audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithEmergencyAccess marks the request as a declared emergency ("break the
// glass"). It only opens permissions the role data marks emergency-only or
// emergency-overridable, and every such grant is audited.
func WithEmergencyAccess(ctx context.Context) context.Context {
	return context.WithValue(ctx, emergencyContextKey{}, true)
}

// WithRequestTime pins the instant access checks are evaluated at.
func WithRequestTime(ctx context.Context, at time.Time) context.Context {
	return context.WithValue(ctx, requestTimeContextKey{}, at)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func emergencyFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	emergency, _ := ctx.Value(emergencyContextKey{}).(bool)
	return emergency
}

func requestTimeFromContext(ctx context.Context) time.Time {
	if ctx == nil {
		return time.Time{}
	}

	at, _ := ctx.Value(requestTimeContextKey{}).(time.Time)
	return at
}
