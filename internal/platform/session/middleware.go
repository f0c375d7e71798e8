package session

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContextKey is the echo context key holding the session id.
const ContextKey = "session_id"

// Middleware resolves the bearer token into a session id.
func Middleware(i *Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}
			sid, err := i.Parse(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session token")
			}
			c.Set(ContextKey, sid)
			return next(c)
		}
	}
}

// FromContext returns the session id set by Middleware.
func FromContext(c echo.Context) string {
	sid, _ := c.Get(ContextKey).(string)
	return sid
}
