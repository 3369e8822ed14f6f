package service

import (
	"errors"

	"cardlink/internal/repository"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrAccountDeactivated     = errors.New("your account has been deactivated, please contact support")
	ErrEmailNotVerified       = errors.New("please verify your email before signing in")
	ErrInvalidToken           = errors.New("invalid verification token")
	ErrInvalidOrExpiredToken  = errors.New("invalid or expired token")
	ErrInvalidPendingToken    = errors.New("two-factor session is invalid or has expired, please sign in again")
	ErrInvalidCode            = errors.New("invalid verification code")
	ErrSetupNotStarted        = errors.New("two-factor setup has not been started")
	ErrNotEnabled             = errors.New("two-factor authentication is not enabled")
	ErrAlreadyEnabled         = errors.New("two-factor authentication is already enabled")
	ErrPasswordReuse          = errors.New("new password must differ from the current password")
	ErrEmailNotRecognized     = errors.New("no account is registered with this email")
	ErrUserNotFound           = errors.New("user not found")
	ErrForbidden              = errors.New("forbidden")
	ErrSelfDeactivation       = errors.New("administrators cannot deactivate themselves")
	ErrHashTimeout            = errors.New("password hashing timed out")
	ErrTooManyAttempts        = errors.New("too many failed verification attempts, please try again later")
	ErrConcurrentUpdate       = repository.ErrConcurrentUpdate
)
