package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			currentRole, ok := RoleFromContext(c)
			if !ok || !slices.Contains(roles, currentRole) {
				return c.JSON(http.StatusForbidden, map[string]any{"success": false, "message": "forbidden"})
			}
			return next(c)
		}
	}
}
