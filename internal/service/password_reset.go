package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"cardlink/internal/activity"
	"cardlink/internal/entity"
	"cardlink/internal/utils"

	"gorm.io/gorm"
)

const resetTokenBytes = 32

// RequestPasswordReset stores a one-hour reset token and mails the link.
// Unlike sign-in, an unknown email is reported to the caller.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, request activity.RequestMeta) error {
	if strings.TrimSpace(email) == "" {
		return ErrInvalidInput
	}

	account, err := s.accounts.FindByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if account == nil {
		return ErrEmailNotRecognized
	}

	token, err := utils.GenerateHexToken(resetTokenBytes)
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(s.resetTokenTTL()).UTC()
	if err := s.accounts.UpdateSecurity(ctx, account, map[string]any{
		"reset_password_token":   utils.HashToken(token),
		"reset_password_expires": expiresAt,
	}); err != nil {
		return err
	}

	if s.emailSender != nil {
		link := s.link(s.config.ResetPath, token)
		s.bestEffort(ctx, "send_reset_password_email", account.ID, func(ctx context.Context) error {
			return s.emailSender.SendResetPasswordEmail(ctx, account.EmailAddress(), account.Name, link)
		})
	}
	s.record(ctx, &account.ID, entity.PasswordResetRequest, request, nil)
	return nil
}

// ResetPassword redeems a reset token. The token fields are cleared in the
// same conditional update that stores the new hash, so a token works once.
// Every failure is recorded, with a nil user when no account was resolved.
func (s *AuthService) ResetPassword(ctx context.Context, token string, newPassword string, request activity.RequestMeta) (err error) {
	var account *entity.Account
	defer func() {
		if err == nil {
			return
		}
		var userID *uint
		if account != nil {
			userID = &account.ID
		}
		s.record(ctx, userID, entity.PasswordResetFailed, request, map[string]any{"reason": err.Error()})
	}()

	if strings.TrimSpace(token) == "" || strings.TrimSpace(newPassword) == "" {
		return ErrInvalidInput
	}

	tokenHash := utils.HashToken(token)
	account, err = s.accounts.FindByResetToken(ctx, tokenHash)
	if err != nil {
		return err
	}
	if account == nil || !resetTokenValid(account, s.now()) {
		return ErrInvalidOrExpiredToken
	}

	if account.PasswordHash != nil {
		same, err := s.passwordHash.Verify(ctx, *account.PasswordHash, newPassword)
		if err != nil {
			return err
		}
		if same {
			return ErrPasswordReuse
		}
	}

	hash, err := s.passwordHash.Hash(ctx, newPassword)
	if err != nil {
		return err
	}
	err = s.accounts.UpdateSecurity(ctx, account, map[string]any{
		"password_hash":          hash,
		"reset_password_token":   nil,
		"reset_password_expires": nil,
		"session_version":        gorm.Expr("session_version + 1"),
	})
	if errors.Is(err, ErrConcurrentUpdate) {
		current, findErr := s.accounts.FindByResetToken(ctx, tokenHash)
		if findErr != nil {
			return findErr
		}
		if current == nil {
			return ErrInvalidOrExpiredToken
		}
		return ErrConcurrentUpdate
	}
	if err != nil {
		return err
	}

	s.bestEffort(ctx, "notify_password_changed", account.ID, func(ctx context.Context) error {
		return s.notifier.NotifyPasswordChanged(ctx, account.ID)
	})
	s.record(ctx, &account.ID, entity.PasswordResetSuccess, request, nil)
	return nil
}

func resetTokenValid(account *entity.Account, now time.Time) bool {
	if account.ResetPasswordToken == nil || account.ResetPasswordExpires == nil {
		return false
	}
	return now.Before(*account.ResetPasswordExpires)
}

func (s *AuthService) resetTokenTTL() time.Duration {
	if s.config.ResetTokenTTL > 0 {
		return s.config.ResetTokenTTL
	}
	return time.Hour
}
