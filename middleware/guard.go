package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/phiguard"
)

type sessionContextKey struct{}

// SessionFromContext returns the validation result stored by RequireSession.
func SessionFromContext(ctx context.Context) (*phiguard.SessionValidation, bool) {
	res, ok := ctx.Value(sessionContextKey{}).(*phiguard.SessionValidation)
	return res, ok && res != nil && res.Valid
}

// RequireSession rejects requests without a valid session. The bearer value
// is a signed session token when the engine issues tokens and a raw session
// id otherwise. The caller's address and user agent are attached to the
// request context for auditing.
func RequireSession(engine *phiguard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			credential, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := withClientMetadata(r)

			var (
				res *phiguard.SessionValidation
				err error
			)
			if engine.Config().Token.Enabled {
				res, err = engine.ResolveSessionToken(ctx, credential)
			} else {
				res, err = engine.ValidateSession(ctx, credential)
			}
			if err != nil {
				writeError(w, err)
				return
			}
			if res == nil || !res.Valid {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if res.RequiresReauth {
				w.Header().Set("X-Reauth-Required", "true")
			}

			ctx = context.WithValue(ctx, sessionContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withClientMetadata(r *http.Request) context.Context {
	ctx := r.Context()
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ctx = phiguard.WithClientIP(ctx, host)
	} else if r.RemoteAddr != "" {
		ctx = phiguard.WithClientIP(ctx, r.RemoteAddr)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = phiguard.WithUserAgent(ctx, ua)
	}
	return ctx
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, phiguard.ErrAccessDenied):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, phiguard.ErrSessionInvalid),
		errors.Is(err, phiguard.ErrSessionNotFound),
		errors.Is(err, phiguard.ErrSessionInactive),
		errors.Is(err, phiguard.ErrTokenInvalid):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
