package routes

import (
	"time"

	"cardlink/api/handler"
	"cardlink/api/middleware"
	"cardlink/internal/entity"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type Router struct {
	Echo           *echo.Echo
	Auth           *handler.AuthHandler
	AuthMiddleware middleware.AuthMiddleware
	AuthRate       *middleware.RateLimiter
	LoginRate      *middleware.RateLimiter
}

func NewRouter(e *echo.Echo, authHandler *handler.AuthHandler, authMiddleware middleware.AuthMiddleware) *Router {
	return &Router{
		Echo:           e,
		Auth:           authHandler,
		AuthMiddleware: authMiddleware,
		AuthRate:       middleware.NewRateLimiter(rate.Limit(5), 10, 5*time.Minute),
		LoginRate:      middleware.NewRateLimiter(rate.Limit(2), 4, 10*time.Minute),
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo
	requireAuth := r.AuthMiddleware.RequireAuth
	requireAdmin := middleware.RequireRole(string(entity.AccountRoleAdmin), string(entity.AccountRoleSuperAdmin))

	auth := e.Group("/auth")
	auth.POST("/register", r.Auth.Register, r.AuthRate.Middleware())
	auth.POST("/verify-email", r.Auth.VerifyEmail, r.AuthRate.Middleware())
	auth.POST("/login", r.Auth.Login, r.LoginRate.Middleware())
	auth.POST("/login/2fa", r.Auth.LoginWithTwoFactor, r.LoginRate.Middleware())
	auth.POST("/logout", r.Auth.Logout, requireAuth)
	auth.POST("/password/forgot", r.Auth.PasswordForgot, r.LoginRate.Middleware())
	auth.POST("/password/reset", r.Auth.PasswordReset, r.AuthRate.Middleware())
	auth.POST("/password/change", r.Auth.PasswordChange, requireAuth)
	auth.POST("/2fa/setup", r.Auth.SetupTwoFactor, requireAuth)
	auth.POST("/2fa/enable", r.Auth.EnableTwoFactor, requireAuth)
	auth.POST("/2fa/disable", r.Auth.DisableTwoFactor, requireAuth)

	me := e.Group("/me", requireAuth)
	me.GET("", r.Auth.Me)
	me.DELETE("", r.Auth.DeleteAccount)
	me.GET("/activity", r.Auth.MyActivity)
	me.GET("/activity/summary", r.Auth.MySecuritySummary)

	admin := e.Group("/admin", requireAuth, requireAdmin)
	admin.GET("/users", r.Auth.AdminListUsers)
	admin.POST("/users", r.Auth.AdminProvisionUser)
	admin.PATCH("/users/:id/status", r.Auth.AdminSetUserStatus)
	admin.GET("/users/:id/activity", r.Auth.AdminUserActivity)
}
