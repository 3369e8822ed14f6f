package middleware

import (
	"github.com/labstack/echo/v4"
)

const (
	contextUserIDKey = "auth_user_id"
	contextRoleKey   = "auth_role"
)

func SetAuthContext(c echo.Context, userID uint, role string) {
	c.Set(contextUserIDKey, userID)
	c.Set(contextRoleKey, role)
}

func UserIDFromContext(c echo.Context) (uint, bool) {
	value := c.Get(contextUserIDKey)
	userID, ok := value.(uint)
	return userID, ok && userID != 0
}

func RoleFromContext(c echo.Context) (string, bool) {
	value := c.Get(contextRoleKey)
	role, ok := value.(string)
	return role, ok
}
