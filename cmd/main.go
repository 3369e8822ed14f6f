package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cardlink/api/handler"
	apiMiddleware "cardlink/api/middleware"
	"cardlink/api/routes"
	"cardlink/config"
	"cardlink/internal/activity"
	"cardlink/internal/geoip"
	"cardlink/internal/repository"
	"cardlink/internal/service"
	"cardlink/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("configure logger")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	db, err := config.OpenDatabase(cfg.DatabaseURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("connect database")
	}
	logger.Info("database connected")

	clock := service.RealClock{}
	sessionManager := utils.JWTManager{
		Secret:        []byte(cfg.JWTSecret),
		Issuer:        cfg.JWTIssuer,
		SessionTTL:    cfg.SessionTTL,
		PersistentTTL: cfg.PersistentTTL,
	}
	sessionIssuer := service.JWTSessionIssuer{Manager: &sessionManager}

	pendingSecret := cfg.PendingJWTSecret
	if pendingSecret == "" {
		pendingSecret = cfg.JWTSecret
	}
	pendingIssuer := service.PendingTokenIssuerJWT{
		Secret: []byte(pendingSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.PendingTTL,
		Clock:  clock,
	}

	accountRepo := repository.NewAccountRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	resolver := geoip.NewHTTPResolver(geoip.Config{
		GeoProviderURL: cfg.GeoProviderURL,
		SelfIPTimeout:  cfg.SelfIPTimeout,
		GeoTimeout:     cfg.GeoTimeout,
	}, &http.Client{Timeout: cfg.SelfIPTimeout + cfg.GeoTimeout}, logger)
	recorder := activity.NewLogRecorder(activityRepo, resolver, logger)

	var notifier service.SecurityNotifier = service.NopNotifier{}
	if cfg.RedisURL != "" {
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("invalid REDIS_URL")
		}
		client := redis.NewClient(options)
		defer client.Close()
		notifier = service.NewRedisNotifier(client, cfg.NotifyTopic, clock)
	} else {
		logger.Warn("REDIS_URL not set, security notifications are disabled")
	}

	emailSender := service.NewResendEmailSender(cfg.ResendAPIKey, cfg.EmailFrom)
	if cfg.ResendAPIKey == "" {
		logger.Warn("RESEND_API_KEY not set, emails will not be delivered")
	}

	authService := service.NewAuthService(
		accountRepo,
		activityRepo,
		recorder,
		emailSender,
		notifier,
		service.BcryptPasswordHasher{Timeout: cfg.HashTimeout},
		sessionIssuer,
		pendingIssuer,
		service.NewTOTPAuthenticator(cfg.TwoFactorIssuer, clock),
		clock,
		service.AuthConfig{
			ResetTokenTTL: cfg.ResetTokenTTL,
			AppBaseURL:    cfg.AppBaseURL,
			VerifyPath:    "/verify-email",
			ResetPath:     "/reset-password",
			LoginPath:     "/login",
		},
		logger,
	)

	authHandler := handler.NewAuthHandler(authService, validator.New(), logger)
	authHandler.CookieDomain = cfg.CookieDomain
	authHandler.SecureCookies = cfg.CookieSecure

	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.IPExtractor = cfg.IPExtractor()
	app.Use(echoMiddleware.Recover())
	app.Use(echoMiddleware.RequestID())
	app.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogLatency:   true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"status":     v.Status,
				"method":     v.Method,
				"uri":        v.URI,
				"ip":         v.RemoteIP,
				"request_id": v.RequestID,
				"latency":    v.Latency.String(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))

	authMiddleware := apiMiddleware.AuthMiddleware{JWT: &sessionManager, Sessions: authService}
	router := routes.NewRouter(app, authHandler, authMiddleware)
	router.RegisterRoutes()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("server started")
		if err := app.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
	logger.Info("server stopped")
}
