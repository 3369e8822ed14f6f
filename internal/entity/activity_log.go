package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActivityType string

const (
	LoginSuccess          ActivityType = "login_success"
	LoginFailed           ActivityType = "login_failed"
	Logout                ActivityType = "logout"
	Registration          ActivityType = "registration"
	PasswordChangeSuccess ActivityType = "password_change_success"
	PasswordChangeFailed  ActivityType = "password_change_failed"
	PasswordResetRequest  ActivityType = "password_reset_request"
	PasswordResetSuccess  ActivityType = "password_reset_success"
	PasswordResetFailed   ActivityType = "password_reset_failed"
	TwoFactorEnabled      ActivityType = "two_factor_enabled"
	TwoFactorDisabled     ActivityType = "two_factor_disabled"
	OAuthLogin            ActivityType = "oauth_login"
)

// UnknownLocation fills country and city when geolocation is unavailable.
const UnknownLocation = "Unknown"

// ActivityLog is append-only. Rows disappear only together with their account.
type ActivityLog struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserID *uint    `gorm:"index"`
	User   *Account `gorm:"constraint:OnDelete:CASCADE"`

	Activity  ActivityType `gorm:"type:varchar(40);not null;index"`
	IPAddress string       `gorm:"type:varchar(45);not null"`
	UserAgent string       `gorm:"type:text"`

	Country *string `gorm:"type:varchar(100)"`
	City    *string `gorm:"type:varchar(100)"`

	DeviceType string `gorm:"type:varchar(20);index"`
	OS         string `gorm:"type:varchar(60)"`
	Browser    string `gorm:"type:varchar(60);index"`

	Metadata datatypes.JSON

	CreatedAt time.Time `gorm:"index"`
}

func (l *ActivityLog) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// BeforeUpdate rejects any attempt to rewrite an audit record.
func (l *ActivityLog) BeforeUpdate(*gorm.DB) error {
	return ErrImmutableRecord
}
