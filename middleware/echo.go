package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	forumauth "github.com/mengnankk/forumauth"
)

// EchoAuthenticate is the Echo form of Authenticate: optional bearer
// validation with anonymous pass-through.
func EchoAuthenticate(engine *forumauth.Engine) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			ctx := requestContext(r)

			if tok, ok := bearerToken(r.Header.Get(echo.HeaderAuthorization)); ok {
				if principal, err := engine.Validate(ctx, tok); err == nil {
					ctx = context.WithValue(ctx, principalContextKey{}, principal)
				}
			}

			c.SetRequest(r.WithContext(ctx))
			return next(c)
		}
	}
}

// EchoRequire is the Echo form of Require: missing or invalid bearer
// tokens get a 401 response.
func EchoRequire(engine *forumauth.Engine) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			ctx := requestContext(r)

			tok, ok := bearerToken(r.Header.Get(echo.HeaderAuthorization))
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}

			principal, err := engine.Validate(ctx, tok)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}

			ctx = context.WithValue(ctx, principalContextKey{}, principal)
			c.SetRequest(r.WithContext(ctx))
			return next(c)
		}
	}
}

// EchoRequirePermission rejects with 403 unless the caller holds the
// permission code. Chain it after EchoRequire.
func EchoRequirePermission(perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, ok := PrincipalFromContext(c.Request().Context())
			if !ok || !principal.HasPermission(perm) {
				return echo.NewHTTPError(http.StatusForbidden, "forbidden")
			}
			return next(c)
		}
	}
}

// EchoRateLimit applies a policy per route. Rejections become 429
// responses carrying the policy message and a Retry-After header.
func EchoRateLimit(engine *forumauth.Engine, policy forumauth.RatePolicy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			ctx := requestContext(r)

			if err := engine.CheckRateLimit(ctx, policy, DimensionValue(r, policy.Dimension)); err != nil {
				return echoRateLimited(c, err)
			}

			c.SetRequest(r.WithContext(ctx))
			return next(c)
		}
	}
}

// EchoPrincipal returns the Principal attached to the Echo request, if
// any.
func EchoPrincipal(c echo.Context) (*forumauth.Principal, bool) {
	return PrincipalFromContext(c.Request().Context())
}

func echoRateLimited(c echo.Context, err error) error {
	var limited *forumauth.RateLimitError
	if !errors.As(err, &limited) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
	}
	c.Response().Header().Set(echo.HeaderRetryAfter, strconv.FormatInt(limited.RetryAfter, 10))
	return echo.NewHTTPError(http.StatusTooManyRequests, limited.Message)
}
