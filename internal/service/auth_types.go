package service

import (
	"context"
	"errors"
	"time"

	"cardlink/internal/entity"

	"github.com/pquerna/otp"
	"golang.org/x/crypto/bcrypt"
)

type AuthConfig struct {
	ResetTokenTTL     time.Duration
	RecoveryCodeCount int
	AppBaseURL        string
	VerifyPath        string
	ResetPath         string
	LoginPath         string
}

type EmailSender interface {
	SendVerificationEmail(ctx context.Context, to string, name string, link string) error
	SendResetPasswordEmail(ctx context.Context, to string, name string, link string) error
	SendAccountCreationEmail(ctx context.Context, to string, name string, link string) error
}

type SecurityNotifier interface {
	NotifyPasswordChanged(ctx context.Context, userID uint) error
	NotifyTwoFactorToggled(ctx context.Context, userID uint, enabled bool) error
}

type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, hash string, password string) (bool, error)
}

type SessionTokenIssuer interface {
	IssueSessionToken(account entity.Account, persistent bool) (string, time.Duration, error)
}

type PendingTokenIssuer interface {
	IssuePendingToken(userID uint) (string, time.Duration, error)
	ParsePendingToken(token string) (uint, error)
}

type TOTPProvider interface {
	GenerateKey(accountName string) (*otp.Key, error)
	ValidateCode(secret string, code string) bool
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

type BcryptPasswordHasher struct {
	Cost    int
	Timeout time.Duration
}

func (h BcryptPasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	var hash []byte
	err := h.bounded(ctx, func() error {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(password), h.cost())
		return err
	})
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h BcryptPasswordHasher) Verify(ctx context.Context, hash string, password string) (bool, error) {
	var matched bool
	err := h.bounded(ctx, func() error {
		matched = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
		return nil
	})
	if err != nil {
		return false, err
	}
	return matched, nil
}

// bounded runs fn but stops waiting once the timeout or ctx expires.
func (h BcryptPasswordHasher) bounded(ctx context.Context, fn func() error) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrHashTimeout
		}
		return ctx.Err()
	}
}

func (h BcryptPasswordHasher) cost() int {
	if h.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return h.Cost
}
