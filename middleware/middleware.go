// Package middleware adapts the auth engine to HTTP. It extracts bearer
// tokens, attaches the validated Principal and client IP to the request
// context, and enforces per-route rate limit policies. Adapters exist for
// net/http handlers and for Echo.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	forumauth "github.com/mengnankk/forumauth"
)

type principalContextKey struct{}

// PrincipalFromContext returns the Principal attached by Authenticate or
// Require, if any.
func PrincipalFromContext(ctx context.Context) (*forumauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*forumauth.Principal)
	return p, ok
}

// Authenticate validates a bearer token when one is present and attaches
// the Principal to the request context. Requests without a token, or with
// an invalid one, pass through anonymously; use Require on routes that
// must reject them. The client IP is attached to the context either way.
func Authenticate(engine *forumauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestContext(r)

			if tok, ok := bearerToken(r.Header.Get("Authorization")); ok {
				if principal, err := engine.Validate(ctx, tok); err == nil {
					ctx = context.WithValue(ctx, principalContextKey{}, principal)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Require validates the bearer token and rejects the request with 401
// when it is missing or invalid. On success the Principal and client IP
// are attached to the context.
func Require(engine *forumauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestContext(r)

			tok, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			principal, err := engine.Validate(ctx, tok)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission rejects with 403 unless the authenticated caller
// holds the permission code. It must run after Require.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok || !principal.HasPermission(perm) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies a policy to every request through it, resolving the
// policy's dimension from the request. Rejections return 429 with a
// Retry-After header; a counter store outage admits the request.
func RateLimit(engine *forumauth.Engine, policy forumauth.RatePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestContext(r)

			err := engine.CheckRateLimit(ctx, policy, DimensionValue(r, policy.Dimension))
			if err != nil {
				writeRateLimited(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DimensionValue resolves a rate dimension from the request. The user
// dimension requires an attached Principal and falls back to the client
// IP for anonymous callers.
func DimensionValue(r *http.Request, dim forumauth.RateDimension) string {
	switch dim {
	case forumauth.RateByUser:
		if principal, ok := PrincipalFromContext(r.Context()); ok {
			return "user:" + strconv.FormatInt(principal.UserID, 10)
		}
		return ClientIP(r)
	case forumauth.RateByMethod:
		return r.Method + ":" + r.URL.Path
	case forumauth.RateByIPAndMethod:
		return ClientIP(r) + ":" + r.Method + ":" + r.URL.Path
	default:
		return ClientIP(r)
	}
}

func requestContext(r *http.Request) context.Context {
	ctx := forumauth.WithClientIP(r.Context(), ClientIP(r))
	if ua := r.UserAgent(); ua != "" {
		ctx = forumauth.WithUserAgent(ctx, ua)
	}
	return ctx
}

func writeRateLimited(w http.ResponseWriter, err error) {
	var limited *forumauth.RateLimitError
	if !errors.As(err, &limited) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	w.Header().Set("Retry-After", strconv.FormatInt(limited.RetryAfter, 10))
	http.Error(w, limited.Message, http.StatusTooManyRequests)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	tok := value[len(bearer):]
	if tok == "" {
		return "", false
	}

	return tok, true
}
