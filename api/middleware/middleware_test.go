package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cardlink/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var secret = []byte(strings.Repeat("m", utils.MinSigningKeyLength))

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth(t *testing.T) {
	manager := &utils.JWTManager{Secret: secret}
	auth := AuthMiddleware{JWT: manager}

	e := echo.New()
	e.GET("/private", func(c echo.Context) error {
		userID, ok := UserIDFromContext(c)
		require.True(t, ok)
		role, _ := RoleFromContext(c)
		return c.JSON(http.StatusOK, map[string]any{"uid": userID, "role": role})
	}, auth.RequireAuth)

	token, _, err := manager.IssueSessionToken(5, "ana@example.com", "admin", 0, false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := serve(e, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"uid":5,"role":"admin"}`, rec.Body.String())

	pending, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":      5,
		"needs2FA": true,
		"typ":      "2fa_pending",
		"exp":      time.Now().Add(time.Minute).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+pending)
	rec = serve(e, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"unauthorized"}`, rec.Body.String())

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	setRole := func(role string) echo.MiddlewareFunc {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				SetAuthContext(c, 1, role)
				return next(c)
			}
		}
	}
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	e.GET("/user", ok, setRole("user"), RequireRole("admin", "superAdmin"))
	e.GET("/super", ok, setRole("superAdmin"), RequireRole("admin", "superAdmin"))

	assert.Equal(t, http.StatusForbidden, serve(e, httptest.NewRequest(http.MethodGet, "/user", nil)).Code)
	assert.Equal(t, http.StatusNoContent, serve(e, httptest.NewRequest(http.MethodGet, "/super", nil)).Code)
}

func TestRateLimiterPerClientIP(t *testing.T) {
	limiter := NewRateLimiter(rate.Limit(0.001), 2, time.Minute)
	e := echo.New()
	e.POST("/login", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, limiter.Middleware())

	request := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = remote
		return serve(e, req)
	}

	assert.Equal(t, http.StatusNoContent, request("203.0.113.1:1000").Code)
	assert.Equal(t, http.StatusNoContent, request("203.0.113.1:1001").Code)
	rec := request("203.0.113.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNoContent, request("203.0.113.2:1000").Code)
}

func TestRateLimiterIgnoresSpoofedForwardedFor(t *testing.T) {
	limiter := NewRateLimiter(rate.Limit(0.01), 4, 10*time.Minute)
	e := echo.New()
	e.POST("/login/2fa", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, limiter.Middleware())

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login/2fa", nil)
		req.RemoteAddr = "198.51.100.7:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.0.2.%d", i))
		if serve(e, req).Code == http.StatusNoContent {
			allowed++
		}
	}
	assert.Equal(t, 4, allowed)
}

func TestRateLimiterUsesTrustedProxyHeader(t *testing.T) {
	_, proxies, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	limiter := NewRateLimiter(rate.Limit(0.001), 1, time.Minute)
	e := echo.New()
	e.IPExtractor = echo.ExtractIPFromXFFHeader(echo.TrustIPRange(proxies))
	e.POST("/login", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, limiter.Middleware())

	request := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.2:443"
		req.Header.Set("X-Forwarded-For", forwarded)
		return serve(e, req).Code
	}

	assert.Equal(t, http.StatusNoContent, request("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("203.0.113.1"))
	assert.Equal(t, http.StatusNoContent, request("203.0.113.2"))
}
