package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cardlink/internal/activity"
	"cardlink/internal/entity"
	"cardlink/internal/repository"
	"cardlink/internal/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	dummyPasswordHash = "$2a$10$CwTycUXWue0Thq9StjUM0uJ8yQbWc1x9uxw2sQ2sXUNx5x9xJ9F2S"

	sideEffectTimeout = 5 * time.Second

	maxSecondFactorFailures   = 5
	secondFactorFailureWindow = 15 * time.Minute

	defaultUserPageSize = 50
	maxUserPageSize     = 200

	reasonInvalidSecondFactor = "invalid_second_factor"
)

type AuthService struct {
	accounts     repository.AccountRepository
	activityLogs repository.ActivityLogRepository
	recorder     activity.Recorder

	emailSender   EmailSender
	notifier      SecurityNotifier
	passwordHash  PasswordHasher
	sessionTokens SessionTokenIssuer
	pendingTokens PendingTokenIssuer
	totp          TOTPProvider
	clock         Clock
	config        AuthConfig
	logger        logrus.FieldLogger
}

func NewAuthService(
	accounts repository.AccountRepository,
	activityLogs repository.ActivityLogRepository,
	recorder activity.Recorder,
	emailSender EmailSender,
	notifier SecurityNotifier,
	passwordHash PasswordHasher,
	sessionTokens SessionTokenIssuer,
	pendingTokens PendingTokenIssuer,
	totp TOTPProvider,
	clock Clock,
	config AuthConfig,
	logger logrus.FieldLogger,
) *AuthService {
	if recorder == nil {
		recorder = activity.Nop{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthService{
		accounts:      accounts,
		activityLogs:  activityLogs,
		recorder:      recorder,
		emailSender:   emailSender,
		notifier:      notifier,
		passwordHash:  passwordHash,
		sessionTokens: sessionTokens,
		pendingTokens: pendingTokens,
		totp:          totp,
		clock:         clock,
		config:        config,
		logger:        logger.WithField("component", "auth"),
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) error {
	if strings.TrimSpace(input.Email) == "" || strings.TrimSpace(input.Password) == "" {
		return ErrInvalidInput
	}

	email := utils.NormalizeEmail(input.Email)
	existing, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.IsVerified {
			return ErrEmailAlreadyRegistered
		}
		token, err := s.rotateVerificationToken(ctx, existing)
		if err != nil {
			return err
		}
		s.sendVerificationEmail(ctx, existing, token)
		return nil
	}

	hash, err := s.passwordHash.Hash(ctx, input.Password)
	if err != nil {
		return err
	}
	token, err := utils.GenerateRandomToken(32)
	if err != nil {
		return err
	}
	tokenHash := utils.HashToken(token)

	account := &entity.Account{
		Name:              strings.TrimSpace(input.Name),
		Email:             &email,
		PasswordHash:      &hash,
		Role:              entity.AccountRoleUser,
		IsActive:          true,
		VerificationToken: &tokenHash,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return err
	}

	s.record(ctx, &account.ID, entity.Registration, input.Request, nil)
	s.sendVerificationEmail(ctx, account, token)
	return nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidInput
	}
	account, err := s.accounts.FindByVerificationToken(ctx, utils.HashToken(token))
	if err != nil {
		return err
	}
	if account == nil {
		return ErrInvalidToken
	}
	return s.accounts.UpdateSecurity(ctx, account, map[string]any{
		"is_verified":        true,
		"verification_token": nil,
	})
}

// Login verifies credentials and either issues a session token or, for
// accounts with a second factor, a pending token to redeem at LoginWithTwoFactor.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	if strings.TrimSpace(input.Email) == "" || input.Password == "" {
		return nil, ErrInvalidInput
	}

	account, err := s.verifyCredentials(ctx, utils.NormalizeEmail(input.Email), input.Password, input.Request)
	if err != nil {
		return nil, err
	}

	if _, ok := account.TwoFactor().(entity.TwoFactorStateEnabled); ok {
		tempToken, expiresIn, err := s.pendingTokens.IssuePendingToken(account.ID)
		if err != nil {
			return nil, err
		}
		s.record(ctx, &account.ID, entity.LoginSuccess, input.Request, map[string]any{"stage": "password", "second_factor": "pending"})
		return &LoginResult{
			RequiresTwoFactor:  true,
			TempToken:          tempToken,
			TempTokenExpiresIn: int64(expiresIn.Seconds()),
			Account:            account,
		}, nil
	}

	result, err := s.issueSession(account, input.RememberMe)
	if err != nil {
		return nil, err
	}
	s.record(ctx, &account.ID, entity.LoginSuccess, input.Request, nil)
	return result, nil
}

// verifyCredentials records a login_failed entry on every rejection.
func (s *AuthService) verifyCredentials(
	ctx context.Context,
	email string,
	password string,
	request activity.RequestMeta,
) (*entity.Account, error) {
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if account == nil || account.PasswordHash == nil {
		_, _ = s.passwordHash.Verify(ctx, dummyPasswordHash, password)
		var userID *uint
		if account != nil {
			userID = &account.ID
		}
		s.record(ctx, userID, entity.LoginFailed, request, map[string]any{"email": email, "reason": "invalid_credentials"})
		return nil, ErrInvalidCredentials
	}

	if !account.IsActive {
		s.record(ctx, &account.ID, entity.LoginFailed, request, map[string]any{"reason": "account_deactivated"})
		return nil, ErrAccountDeactivated
	}

	matched, err := s.passwordHash.Verify(ctx, *account.PasswordHash, password)
	if err != nil {
		s.record(ctx, &account.ID, entity.LoginFailed, request, map[string]any{"reason": "verification_error"})
		return nil, err
	}
	if !matched {
		s.record(ctx, &account.ID, entity.LoginFailed, request, map[string]any{"reason": "invalid_credentials"})
		return nil, ErrInvalidCredentials
	}

	if !account.IsVerified {
		s.record(ctx, &account.ID, entity.LoginFailed, request, map[string]any{"reason": "email_not_verified"})
		return nil, ErrEmailNotVerified
	}
	return account, nil
}

func (s *AuthService) LoginWithTwoFactor(ctx context.Context, input LoginTwoFactorInput) (*LoginResult, error) {
	if strings.TrimSpace(input.TempToken) == "" || strings.TrimSpace(input.Code) == "" {
		return nil, ErrInvalidInput
	}
	userID, err := s.pendingTokens.ParsePendingToken(input.TempToken)
	if err != nil {
		return nil, ErrInvalidPendingToken
	}

	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrInvalidPendingToken
	}
	if !account.IsActive {
		s.record(ctx, &account.ID, entity.LoginFailed, input.Request, map[string]any{"reason": "account_deactivated"})
		return nil, ErrAccountDeactivated
	}

	failures, err := s.activityLogs.CountReasonSince(
		ctx, account.ID, entity.LoginFailed, reasonInvalidSecondFactor, s.now().Add(-secondFactorFailureWindow).UTC(),
	)
	if err != nil {
		return nil, err
	}
	if failures >= maxSecondFactorFailures {
		s.record(ctx, &account.ID, entity.LoginFailed, input.Request, map[string]any{"reason": "too_many_attempts"})
		return nil, ErrTooManyAttempts
	}

	method, err := s.verifyLoginCode(ctx, account, input.Code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrNotEnabled) {
			s.record(ctx, &account.ID, entity.LoginFailed, input.Request, map[string]any{"reason": reasonInvalidSecondFactor})
			return nil, ErrInvalidCode
		}
		return nil, err
	}

	result, err := s.issueSession(account, input.RememberMe)
	if err != nil {
		return nil, err
	}
	s.record(ctx, &account.ID, entity.LoginSuccess, input.Request, map[string]any{"stage": "second_factor", "second_factor": method})
	return result, nil
}

// SessionActive reports whether a session token minted at sessionVersion
// still belongs to an active account whose password has not changed since.
func (s *AuthService) SessionActive(ctx context.Context, userID uint, sessionVersion uint) (bool, error) {
	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if account == nil || !account.IsActive {
		return false, nil
	}
	return account.SessionVersion == sessionVersion, nil
}

func (s *AuthService) Logout(ctx context.Context, userID uint, request activity.RequestMeta) error {
	s.record(ctx, &userID, entity.Logout, request, nil)
	return nil
}

func (s *AuthService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	if input.CurrentPassword == "" || strings.TrimSpace(input.NewPassword) == "" {
		return ErrInvalidInput
	}
	account, err := s.accounts.FindByID(ctx, input.UserID)
	if err != nil {
		return err
	}
	if account == nil || account.PasswordHash == nil {
		return ErrUserNotFound
	}

	matched, err := s.passwordHash.Verify(ctx, *account.PasswordHash, input.CurrentPassword)
	if err != nil {
		return err
	}
	if !matched {
		s.record(ctx, &account.ID, entity.PasswordChangeFailed, input.Request, map[string]any{"reason": "invalid_current_password"})
		return ErrInvalidCredentials
	}
	if input.NewPassword == input.CurrentPassword {
		s.record(ctx, &account.ID, entity.PasswordChangeFailed, input.Request, map[string]any{"reason": "password_reuse"})
		return ErrPasswordReuse
	}

	hash, err := s.passwordHash.Hash(ctx, input.NewPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdateSecurity(ctx, account, map[string]any{
		"password_hash":          hash,
		"reset_password_token":   nil,
		"reset_password_expires": nil,
		"session_version":        gorm.Expr("session_version + 1"),
	}); err != nil {
		s.record(ctx, &account.ID, entity.PasswordChangeFailed, input.Request, map[string]any{"reason": "update_failed"})
		return err
	}

	s.bestEffort(ctx, "notify_password_changed", account.ID, func(ctx context.Context) error {
		return s.notifier.NotifyPasswordChanged(ctx, account.ID)
	})
	s.record(ctx, &account.ID, entity.PasswordChangeSuccess, input.Request, nil)
	return nil
}

// DeleteAccount removes the account and its activity trail after re-checking
// the password.
func (s *AuthService) DeleteAccount(ctx context.Context, userID uint, password string) error {
	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrUserNotFound
	}
	if account.PasswordHash == nil || password == "" {
		return ErrInvalidCredentials
	}
	matched, err := s.passwordHash.Verify(ctx, *account.PasswordHash, password)
	if err != nil {
		return err
	}
	if !matched {
		return ErrInvalidCredentials
	}
	if err := s.accounts.Delete(ctx, account.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.logger.WithField("user_id", account.ID).Info("account deleted")
	return nil
}

func (s *AuthService) GetCurrentUser(ctx context.Context, userID uint) (*entity.Account, error) {
	return s.accounts.FindByID(ctx, userID)
}

func (s *AuthService) ListUsers(ctx context.Context, limit, offset int) ([]entity.Account, error) {
	if limit <= 0 {
		limit = defaultUserPageSize
	}
	if limit > maxUserPageSize {
		limit = maxUserPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.accounts.List(ctx, limit, offset)
}

// ProvisionAccount creates a verified account on behalf of an administrator.
// Only a superAdmin may provision other administrators.
func (s *AuthService) ProvisionAccount(ctx context.Context, input ProvisionAccountInput) (*entity.Account, error) {
	if strings.TrimSpace(input.Email) == "" || strings.TrimSpace(input.Password) == "" {
		return nil, ErrInvalidInput
	}
	role := input.Role
	if role == "" {
		role = entity.AccountRoleUser
	}
	switch role {
	case entity.AccountRoleUser:
	case entity.AccountRoleAdmin, entity.AccountRoleSuperAdmin:
		if input.ActorRole != entity.AccountRoleSuperAdmin {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrInvalidInput
	}

	email := utils.NormalizeEmail(input.Email)
	existing, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}

	hash, err := s.passwordHash.Hash(ctx, input.Password)
	if err != nil {
		return nil, err
	}
	account := &entity.Account{
		Name:         strings.TrimSpace(input.Name),
		Email:        &email,
		PasswordHash: &hash,
		Role:         role,
		IsActive:     true,
		IsVerified:   true,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	if s.emailSender != nil {
		link := s.link(s.config.LoginPath, "")
		s.bestEffort(ctx, "send_account_creation_email", account.ID, func(ctx context.Context) error {
			return s.emailSender.SendAccountCreationEmail(ctx, email, account.Name, link)
		})
	}
	return account, nil
}

// ChangeAccountStatus activates or deactivates an account on behalf of an
// administrator. Administrator accounts can only be changed by a superAdmin,
// and nobody can deactivate their own account.
func (s *AuthService) ChangeAccountStatus(ctx context.Context, input AccountStatusInput) error {
	if input.ActorID == input.UserID && !input.Active {
		return ErrSelfDeactivation
	}
	target, err := s.accounts.FindByID(ctx, input.UserID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrUserNotFound
	}
	if target.IsAdmin() && input.ActorRole != entity.AccountRoleSuperAdmin {
		return ErrForbidden
	}
	return s.SetAccountActive(ctx, input.UserID, input.Active)
}

func (s *AuthService) SetAccountActive(ctx context.Context, userID uint, active bool) error {
	if err := s.accounts.SetActive(ctx, userID, active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

func (s *AuthService) issueSession(account *entity.Account, persistent bool) (*LoginResult, error) {
	token, expiresIn, err := s.sessionTokens.IssueSessionToken(*account, persistent)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:     token,
		ExpiresIn: int64(expiresIn.Seconds()),
		Account:   account,
	}, nil
}

func (s *AuthService) rotateVerificationToken(ctx context.Context, account *entity.Account) (string, error) {
	token, err := utils.GenerateRandomToken(32)
	if err != nil {
		return "", err
	}
	if err := s.accounts.UpdateSecurity(ctx, account, map[string]any{
		"verification_token": utils.HashToken(token),
	}); err != nil {
		return "", err
	}
	return token, nil
}

func (s *AuthService) sendVerificationEmail(ctx context.Context, account *entity.Account, token string) {
	if s.emailSender == nil {
		return
	}
	link := s.link(s.config.VerifyPath, token)
	s.bestEffort(ctx, "send_verification_email", account.ID, func(ctx context.Context) error {
		return s.emailSender.SendVerificationEmail(ctx, account.EmailAddress(), account.Name, link)
	})
}

func (s *AuthService) link(path string, token string) string {
	base := strings.TrimRight(s.config.AppBaseURL, "/")
	if path == "" {
		path = "/"
	}
	if token == "" {
		return base + path
	}
	return fmt.Sprintf("%s%s?token=%s", base, path, url.QueryEscape(token))
}

func (s *AuthService) record(
	ctx context.Context,
	userID *uint,
	activityType entity.ActivityType,
	request activity.RequestMeta,
	details map[string]any,
) {
	_ = s.recorder.Record(ctx, userID, activityType, request, details)
}

// bestEffort runs a side effect whose failure must not fail the caller.
// Errors and panics are logged and then dropped.
func (s *AuthService) bestEffort(ctx context.Context, op string, userID uint, fn func(ctx context.Context) error) {
	entry := s.logger.WithFields(logrus.Fields{"op": op, "user_id": userID})
	defer func() {
		if recovered := recover(); recovered != nil {
			entry.WithField("panic", recovered).Error("side effect panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		entry.WithError(err).Warn("side effect failed")
	}
}

func (s *AuthService) now() time.Time {
	return s.clock.Now()
}
