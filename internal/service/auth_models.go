package service

import (
	"time"

	"cardlink/internal/activity"
	"cardlink/internal/entity"
)

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Request  activity.RequestMeta
}

type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	Request    activity.RequestMeta
}

type LoginTwoFactorInput struct {
	TempToken  string
	Code       string
	RememberMe bool
	Request    activity.RequestMeta
}

type LoginResult struct {
	Token              string
	ExpiresIn          int64
	RequiresTwoFactor  bool
	TempToken          string
	TempTokenExpiresIn int64
	Account            *entity.Account
}

type ChangePasswordInput struct {
	UserID          uint
	CurrentPassword string
	NewPassword     string
	Request         activity.RequestMeta
}

type ProvisionAccountInput struct {
	Name      string
	Email     string
	Password  string
	Role      entity.AccountRole
	ActorRole entity.AccountRole
}

type AccountStatusInput struct {
	ActorID   uint
	ActorRole entity.AccountRole
	UserID    uint
	Active    bool
}

type TwoFactorSetup struct {
	Secret     string
	OTPAuthURL string
	QRCode     string
}

type ActivityQuery struct {
	UserID     uint
	Types      []entity.ActivityType
	From       *time.Time
	To         *time.Time
	DeviceType string
	Browser    string
	Limit      int
	Offset     int
}

type SecuritySummary struct {
	FailedLogins int64
	Window       time.Duration
}
