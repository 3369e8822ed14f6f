package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"slices"
	"strings"

	"cardlink/internal/activity"
	"cardlink/internal/entity"
)

const (
	defaultRecoveryCodeCount = 5
	recoveryCodeBytes        = 4

	methodTOTP         = "totp"
	methodRecoveryCode = "recovery_code"
)

// SetupTwoFactor stores a fresh unconfirmed secret, replacing any earlier
// unconfirmed one. The account stays unprotected until EnableTwoFactor.
func (s *AuthService) SetupTwoFactor(ctx context.Context, userID uint) (*TwoFactorSetup, error) {
	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrUserNotFound
	}
	if _, ok := account.TwoFactor().(entity.TwoFactorStateEnabled); ok {
		return nil, ErrAlreadyEnabled
	}

	key, err := s.totp.GenerateKey(account.EmailAddress())
	if err != nil {
		return nil, err
	}
	state := entity.TwoFactorStatePending{Secret: key.Secret()}
	if err := s.accounts.UpdateSecurity(ctx, account, entity.TwoFactorColumns(state)); err != nil {
		return nil, err
	}

	qr, err := qrCodeDataURI(key)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", account.ID).Warn("qr code rendering failed")
	}
	return &TwoFactorSetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCode:     qr,
	}, nil
}

// EnableTwoFactor confirms the pending secret with a code and returns the
// recovery codes. They are not retrievable afterwards.
func (s *AuthService) EnableTwoFactor(ctx context.Context, userID uint, code string, request activity.RequestMeta) ([]string, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrInvalidInput
	}
	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrUserNotFound
	}

	var pending entity.TwoFactorStatePending
	switch state := account.TwoFactor().(type) {
	case entity.TwoFactorStatePending:
		pending = state
	case entity.TwoFactorStateEnabled:
		return nil, ErrAlreadyEnabled
	default:
		return nil, ErrSetupNotStarted
	}

	if !s.totp.ValidateCode(pending.Secret, code) {
		return nil, ErrInvalidCode
	}

	codes, err := generateRecoveryCodes(s.recoveryCodeCount())
	if err != nil {
		return nil, err
	}
	enabled := entity.TwoFactorStateEnabled{Secret: pending.Secret, RecoveryCodes: codes}
	if err := s.accounts.UpdateSecurity(ctx, account, entity.TwoFactorColumns(enabled)); err != nil {
		return nil, err
	}

	s.bestEffort(ctx, "notify_two_factor_enabled", account.ID, func(ctx context.Context) error {
		return s.notifier.NotifyTwoFactorToggled(ctx, account.ID, true)
	})
	s.record(ctx, &account.ID, entity.TwoFactorEnabled, request, nil)
	return codes, nil
}

func (s *AuthService) DisableTwoFactor(ctx context.Context, userID uint, request activity.RequestMeta) error {
	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrUserNotFound
	}
	if _, ok := account.TwoFactor().(entity.TwoFactorStateEnabled); !ok {
		return ErrNotEnabled
	}

	if err := s.accounts.UpdateSecurity(ctx, account, entity.TwoFactorColumns(entity.TwoFactorStateDisabled{})); err != nil {
		return err
	}

	s.bestEffort(ctx, "notify_two_factor_disabled", account.ID, func(ctx context.Context) error {
		return s.notifier.NotifyTwoFactorToggled(ctx, account.ID, false)
	})
	s.record(ctx, &account.ID, entity.TwoFactorDisabled, request, nil)
	return nil
}

// verifyLoginCode accepts a TOTP code or, failing that, an unused recovery
// code. A recovery code is removed in the same conditional update that
// accepts it, so concurrent redemptions cannot both spend it.
func (s *AuthService) verifyLoginCode(ctx context.Context, account *entity.Account, code string) (string, error) {
	state, ok := account.TwoFactor().(entity.TwoFactorStateEnabled)
	if !ok {
		return "", ErrNotEnabled
	}
	if s.totp.ValidateCode(state.Secret, code) {
		return methodTOTP, nil
	}

	code = strings.TrimSpace(code)
	for attempt := 0; attempt < 2; attempt++ {
		index := slices.Index(state.RecoveryCodes, code)
		if code == "" || index < 0 {
			return "", ErrInvalidCode
		}
		remaining := slices.Delete(slices.Clone(state.RecoveryCodes), index, index+1)
		next := entity.TwoFactorStateEnabled{Secret: state.Secret, RecoveryCodes: remaining}

		err := s.accounts.UpdateSecurity(ctx, account, entity.TwoFactorColumns(next))
		if err == nil {
			account.TwoFactorRecoveryCodes = entity.RecoveryCodes(remaining)
			return methodRecoveryCode, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return "", err
		}

		reloaded, err := s.accounts.FindByID(ctx, account.ID)
		if err != nil {
			return "", err
		}
		if reloaded == nil {
			return "", ErrInvalidCode
		}
		*account = *reloaded
		if state, ok = account.TwoFactor().(entity.TwoFactorStateEnabled); !ok {
			return "", ErrInvalidCode
		}
	}
	return "", ErrConcurrentUpdate
}

func (s *AuthService) recoveryCodeCount() int {
	if s.config.RecoveryCodeCount > 0 {
		return s.config.RecoveryCodeCount
	}
	return defaultRecoveryCodeCount
}

func generateRecoveryCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	buffer := make([]byte, recoveryCodeBytes)
	for len(codes) < count {
		if _, err := rand.Read(buffer); err != nil {
			return nil, err
		}
		code := strings.ToUpper(hex.EncodeToString(buffer))
		if slices.Contains(codes, code) {
			continue
		}
		codes = append(codes, code)
	}
	return codes, nil
}
