package dto

import (
	"time"

	"cardlink/internal/entity"
)

type RegisterRequest struct {
	Name     string `json:"name" validate:"omitempty,max=255"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

type LoginTwoFactorRequest struct {
	TempToken  string `json:"tempToken" validate:"required"`
	Code       string `json:"code" validate:"required,max=16"`
	RememberMe bool   `json:"rememberMe"`
}

type LoginResponse struct {
	Success            bool          `json:"success"`
	Message            string        `json:"message"`
	Token              string        `json:"token,omitempty"`
	ExpiresIn          int64         `json:"expiresIn,omitempty"`
	TempToken          string        `json:"tempToken,omitempty"`
	TempTokenExpiresIn int64         `json:"tempTokenExpiresIn,omitempty"`
	RequiresTwoFactor  bool          `json:"requires2FA"`
	User               *UserResponse `json:"user,omitempty"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type PasswordForgotRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type PasswordResetRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}

type DeleteAccountRequest struct {
	Password string `json:"password" validate:"required"`
}

type TwoFactorSetupResponse struct {
	Success       bool   `json:"success"`
	Secret        string `json:"secret"`
	OTPAuthURL    string `json:"otpauthUrl"`
	QRCodePayload string `json:"qrCodePayload"`
}

type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type TwoFactorEnableResponse struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	RecoveryCodes []string `json:"recoveryCodes"`
}

type ProvisionAccountRequest struct {
	Name     string `json:"name" validate:"omitempty,max=255"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin superAdmin"`
}

type AccountStatusRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

type UserResponse struct {
	ID               uint      `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	IsVerified       bool      `json:"isVerified"`
	IsActive         bool      `json:"isActive"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	CreatedAt        time.Time `json:"createdAt"`
}

func UserResponseFromEntity(account *entity.Account) *UserResponse {
	if account == nil {
		return nil
	}
	_, twoFactor := account.TwoFactor().(entity.TwoFactorStateEnabled)
	return &UserResponse{
		ID:               account.ID,
		Name:             account.Name,
		Email:            account.EmailAddress(),
		Role:             string(account.Role),
		IsVerified:       account.IsVerified,
		IsActive:         account.IsActive,
		TwoFactorEnabled: twoFactor,
		CreatedAt:        account.CreatedAt,
	}
}

func UserResponsesFromEntities(accounts []entity.Account) []UserResponse {
	responses := make([]UserResponse, 0, len(accounts))
	for i := range accounts {
		responses = append(responses, *UserResponseFromEntity(&accounts[i]))
	}
	return responses
}
