package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// usernameHeader is set by the upstream auth gateway after it has verified
// the caller.
const usernameHeader = "X-Username"

const principalKey = "auth.username"

func (s *Server) requireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username := strings.TrimSpace(c.Request().Header.Get(usernameHeader))
			if username == "" {
				return fail(c, http.StatusUnauthorized, "Authentication required", nil)
			}
			c.Set(principalKey, username)
			return next(c)
		}
	}
}

// requireSelf rejects requests for another user's resources.
func (s *Server) requireSelf() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.TrimSpace(c.Param("username")) != principal(c) {
				return fail(c, http.StatusForbidden, "Forbidden", nil)
			}
			return next(c)
		}
	}
}

func principal(c echo.Context) string {
	username, _ := c.Get(principalKey).(string)
	return username
}
