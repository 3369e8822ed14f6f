package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cardlink/api/middleware"
	"cardlink/internal/activity"
	"cardlink/internal/dto"
	"cardlink/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errInternal     = errors.New("something went wrong, please try again later")
)

type AuthHandler struct {
	Service           *service.AuthService
	Validate          *validator.Validate
	Logger            logrus.FieldLogger
	SessionCookieName string
	CookieDomain      string
	SecureCookies     bool
	SameSite          http.SameSite
}

func NewAuthHandler(svc *service.AuthService, validate *validator.Validate, logger logrus.FieldLogger) *AuthHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthHandler{
		Service:           svc,
		Validate:          validate,
		Logger:            logger,
		SessionCookieName: middleware.SessionCookieName,
		SecureCookies:     true,
		SameSite:          http.SameSiteStrictMode,
	}
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req dto.RegisterRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Request:  requestMeta(c),
	}
	if err := h.Service.Register(c.Request().Context(), input); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.MessageResponse{
		Success: true,
		Message: "registration successful, please check your email to verify your account",
	})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req dto.VerifyEmailRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.VerifyEmail(c.Request().Context(), req.Token); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.MessageResponse{Success: true, Message: "email verified"})
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req dto.LoginRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		Request:    requestMeta(c),
	}
	result, err := h.Service.Login(c.Request().Context(), input)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	if result.RequiresTwoFactor {
		return c.JSON(http.StatusOK, dto.LoginResponse{
			Success:            true,
			Message:            "two-factor authentication required",
			TempToken:          result.TempToken,
			TempTokenExpiresIn: result.TempTokenExpiresIn,
			RequiresTwoFactor:  true,
			User:               dto.UserResponseFromEntity(result.Account),
		})
	}
	h.setSessionCookie(c, result.Token, result.ExpiresIn)
	return c.JSON(http.StatusOK, sessionResponse(result))
}

func (h *AuthHandler) LoginWithTwoFactor(c echo.Context) error {
	var req dto.LoginTwoFactorRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.LoginTwoFactorInput{
		TempToken:  req.TempToken,
		Code:       req.Code,
		RememberMe: req.RememberMe,
		Request:    requestMeta(c),
	}
	result, err := h.Service.LoginWithTwoFactor(c.Request().Context(), input)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	h.setSessionCookie(c, result.Token, result.ExpiresIn)
	return c.JSON(http.StatusOK, sessionResponse(result))
}

func (h *AuthHandler) Logout(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errUnauthorized)
	}
	if err := h.Service.Logout(c.Request().Context(), userID, requestMeta(c)); err != nil {
		return h.writeServiceError(c, err)
	}
	h.clearSessionCookie(c)
	return c.JSON(http.StatusOK, dto.MessageResponse{Success: true, Message: "signed out"})
}

func (h *AuthHandler) PasswordForgot(c echo.Context) error {
	var req dto.PasswordForgotRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.RequestPasswordReset(c.Request().Context(), req.Email, requestMeta(c)); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.MessageResponse{
		Success: true,
		Message: "a password reset link has been sent to your email",
	})
}

func (h *AuthHandler) PasswordReset(c echo.Context) error {
	var req dto.PasswordResetRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.ResetPassword(c.Request().Context(), req.Token, req.NewPassword, requestMeta(c)); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.MessageResponse{Success: true, Message: "password has been reset"})
}

func (h *AuthHandler) PasswordChange(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errUnauthorized)
	}
	var req dto.PasswordChangeRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.ChangePasswordInput{
		UserID:          userID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		Request:         requestMeta(c),
	}
	if err := h.Service.ChangePassword(c.Request().Context(), input); err != nil {
		return h.writeServiceError(c, err)
	}
	// Every existing session, this one included, is revoked by the change.
	h.clearSessionCookie(c)
	return c.JSON(http.StatusOK, dto.MessageResponse{Success: true, Message: "password changed, please sign in again"})
}

func (h *AuthHandler) SetupTwoFactor(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errUnauthorized)
	}
	setup, err := h.Service.SetupTwoFactor(c.Request().Context(), userID)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.TwoFactorSetupResponse{
		Success:       true,
		Secret:        setup.Secret,
		OTPAuthURL:    setup.OTPAuthURL,
		QRCodePayload: setup.QRCode,
	})
}

func (h *AuthHandler) EnableTwoFactor(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errUnauthorized)
	}
	var req dto.TwoFactorCodeRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	codes, err := h.Service.EnableTwoFactor(c.Request().Context(), userID, req.Code, requestMeta(c))
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.TwoFactorEnableResponse{
		Success:       true,
		Message:       "two-factor authentication enabled, store your recovery codes safely",
		RecoveryCodes: codes,
	})
}

func (h *AuthHandler) DisableTwoFactor(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errUnauthorized)
	}
	if err := h.Service.DisableTwoFactor(c.Request().Context(), userID, requestMeta(c)); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.MessageResponse{Success: true, Message: "two-factor authentication disabled"})
}

func (h *AuthHandler) setSessionCookie(c echo.Context, token string, expiresIn int64) {
	if token == "" {
		return
	}
	maxAge := int(expiresIn)
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetCookie(&http.Cookie{
		Name:     h.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   maxAge,
		Expires:  time.Now().Add(time.Duration(expiresIn) * time.Second),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: h.SameSite,
	})
}

func (h *AuthHandler) clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     h.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: h.SameSite,
	})
}

func (h *AuthHandler) writeServiceError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrInvalidOrExpiredToken),
		errors.Is(err, service.ErrPasswordReuse),
		errors.Is(err, service.ErrSetupNotStarted),
		errors.Is(err, service.ErrNotEnabled),
		errors.Is(err, service.ErrSelfDeactivation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidCode),
		errors.Is(err, service.ErrInvalidPendingToken):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountDeactivated),
		errors.Is(err, service.ErrEmailNotVerified),
		errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrEmailNotRecognized),
		errors.Is(err, service.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrEmailAlreadyRegistered),
		errors.Is(err, service.ErrAlreadyEnabled),
		errors.Is(err, service.ErrConcurrentUpdate):
		status = http.StatusConflict
	case errors.Is(err, service.ErrTooManyAttempts):
		status = http.StatusTooManyRequests
	case errors.Is(err, service.ErrHashTimeout):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.Logger.WithError(err).WithField("uri", c.Request().RequestURI).Error("request failed")
		return writeError(c, status, errInternal)
	}
	return writeError(c, status, err)
}

func decodeJSON(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, dto.MessageResponse{Success: false, Message: err.Error()})
}

func (h *AuthHandler) validate(payload any) error {
	if h.Validate == nil {
		return nil
	}
	if err := h.Validate.Struct(payload); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			first := validationErrors[0]
			return fmt.Errorf("invalid field %s: %s", first.Field(), first.Tag())
		}
		return err
	}
	return nil
}

func requestMeta(c echo.Context) activity.RequestMeta {
	return activity.FromRequest(c.Request())
}

func sessionResponse(result *service.LoginResult) dto.LoginResponse {
	return dto.LoginResponse{
		Success:   true,
		Message:   "signed in",
		Token:     result.Token,
		ExpiresIn: result.ExpiresIn,
		User:      dto.UserResponseFromEntity(result.Account),
	}
}
