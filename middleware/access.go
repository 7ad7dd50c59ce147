package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/phiguard"
)

type decisionContextKey struct{}

// DecisionFromContext returns the grant made by RequireAccess.
func DecisionFromContext(ctx context.Context) (phiguard.AccessDecision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(phiguard.AccessDecision)
	return d, ok
}

// TargetFunc describes the record a request touches, for scope gates.
type TargetFunc func(*http.Request) *phiguard.AccessTarget

type accessOptions struct {
	target          TargetFunc
	emergencyHeader string
}

type AccessOption func(*accessOptions)

func WithTarget(fn TargetFunc) AccessOption {
	return func(o *accessOptions) {
		o.target = fn
	}
}

// WithEmergencyHeader marks requests carrying header: true as declared
// emergencies. Emergency grants still require role data that allows them and
// are always audited.
func WithEmergencyHeader(header string) AccessOption {
	return func(o *accessOptions) {
		o.emergencyHeader = header
	}
}

// RequireAccess checks resource and action for the session stored by
// RequireSession, which must wrap it. Denials answer 403.
func RequireAccess(engine *phiguard.Engine, resource, action string, opts ...AccessOption) func(http.Handler) http.Handler {
	var o accessOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			res, ok := SessionFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			if o.emergencyHeader != "" && strings.EqualFold(r.Header.Get(o.emergencyHeader), "true") {
				ctx = phiguard.WithEmergencyAccess(ctx)
			}

			var target *phiguard.AccessTarget
			if o.target != nil {
				target = o.target(r)
			}

			d, err := engine.AuthorizeValidated(ctx, res, resource, action, target)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx = context.WithValue(ctx, decisionContextKey{}, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
