package middleware

import (
	"context"
	"net/http"
	"strings"

	"cardlink/internal/utils"

	"github.com/labstack/echo/v4"
)

const SessionCookieName = "token"

// SessionChecker reports whether a session minted at sessionVersion is still
// honoured for the account.
type SessionChecker interface {
	SessionActive(ctx context.Context, userID uint, sessionVersion uint) (bool, error)
}

// AuthMiddleware accepts a session token from the Authorization header or the
// session cookie. Pending second-factor tokens are rejected by the parser.
// With Sessions set, tokens of deactivated accounts and tokens issued before
// the last password change are rejected too.
type AuthMiddleware struct {
	JWT        *utils.JWTManager
	Sessions   SessionChecker
	CookieName string
}

func (m AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.JWT == nil {
			return unauthorized(c)
		}
		token := extractBearerToken(c.Request())
		if token == "" {
			token = m.readCookie(c)
		}
		if token == "" {
			return unauthorized(c)
		}
		claims, err := m.JWT.ParseSessionToken(token)
		if err != nil {
			return unauthorized(c)
		}
		if m.Sessions != nil {
			active, err := m.Sessions.SessionActive(c.Request().Context(), claims.UserID, claims.SessionVersion)
			if err != nil {
				c.Logger().Errorf("session check: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]any{"success": false, "message": "internal server error"})
			}
			if !active {
				return unauthorized(c)
			}
		}
		SetAuthContext(c, claims.UserID, claims.Role)
		return next(c)
	}
}

func (m AuthMiddleware) readCookie(c echo.Context) string {
	name := m.CookieName
	if name == "" {
		name = SessionCookieName
	}
	cookie, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]any{"success": false, "message": "unauthorized"})
}

func extractBearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return ""
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
