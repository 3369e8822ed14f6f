package entity

import (
	"time"

	"gorm.io/datatypes"
)

type AccountRole string

const (
	AccountRoleUser       AccountRole = "user"
	AccountRoleAdmin      AccountRole = "admin"
	AccountRoleSuperAdmin AccountRole = "superAdmin"
)

type Account struct {
	ID           uint        `gorm:"primaryKey"`
	Name         string      `gorm:"type:varchar(255)"`
	Email        *string     `gorm:"type:varchar(255);uniqueIndex"`
	PasswordHash *string     `gorm:"type:text"`
	Role         AccountRole `gorm:"type:varchar(20);not null"`

	IsVerified        bool
	VerificationToken *string `gorm:"type:varchar(128);index"`
	IsActive          bool

	TwoFactorEnabled       bool
	TwoFactorSecret        *string                     `gorm:"type:varchar(128)"`
	TwoFactorRecoveryCodes datatypes.JSONSlice[string] `gorm:"not null"`

	ResetPasswordToken   *string `gorm:"type:varchar(128);index"`
	ResetPasswordExpires *time.Time

	// SecurityVersion is bumped by every credential or second-factor mutation.
	SecurityVersion uint `gorm:"not null"`
	// SessionVersion is bumped when the password changes; older session
	// tokens stop being accepted.
	SessionVersion uint `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Account) EmailAddress() string {
	if a == nil || a.Email == nil {
		return ""
	}
	return *a.Email
}

func (a *Account) IsAdmin() bool {
	return a.Role == AccountRoleAdmin || a.Role == AccountRoleSuperAdmin
}
