package repository

import (
	"context"
	"errors"

	"cardlink/internal/entity"

	"gorm.io/gorm"
)

// ErrConcurrentUpdate is returned when another request changed the account's
// security state between read and write.
var ErrConcurrentUpdate = errors.New("account was modified concurrently")

type AccountRepository interface {
	Create(ctx context.Context, account *entity.Account) error
	FindByID(ctx context.Context, id uint) (*entity.Account, error)
	FindByEmail(ctx context.Context, email string) (*entity.Account, error)
	FindByVerificationToken(ctx context.Context, tokenHash string) (*entity.Account, error)
	FindByResetToken(ctx context.Context, tokenHash string) (*entity.Account, error)
	UpdateSecurity(ctx context.Context, account *entity.Account, fields map[string]any) error
	SetActive(ctx context.Context, id uint, active bool) error
	List(ctx context.Context, limit, offset int) ([]entity.Account, error)
	Delete(ctx context.Context, id uint) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *entity.Account) error {
	if account.TwoFactorRecoveryCodes == nil {
		account.TwoFactorRecoveryCodes = entity.RecoveryCodes(nil)
	}
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepository) FindByID(ctx context.Context, id uint) (*entity.Account, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *accountRepository) FindByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *accountRepository) FindByVerificationToken(ctx context.Context, tokenHash string) (*entity.Account, error) {
	return r.first(ctx, "verification_token = ?", tokenHash)
}

func (r *accountRepository) FindByResetToken(ctx context.Context, tokenHash string) (*entity.Account, error) {
	return r.first(ctx, "reset_password_token = ?", tokenHash)
}

func (r *accountRepository) first(ctx context.Context, query string, args ...any) (*entity.Account, error) {
	var account entity.Account
	err := r.db.WithContext(ctx).
		Where(query, args...).
		First(&account).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdateSecurity writes fields only if the row still carries the security
// version that was read into account, and bumps that version.
func (r *accountRepository) UpdateSecurity(ctx context.Context, account *entity.Account, fields map[string]any) error {
	updates := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		updates[key] = value
	}
	updates["security_version"] = gorm.Expr("security_version + 1")

	result := r.db.WithContext(ctx).
		Model(&entity.Account{}).
		Where("id = ? AND security_version = ?", account.ID, account.SecurityVersion).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	account.SecurityVersion++
	return nil
}

func (r *accountRepository) SetActive(ctx context.Context, id uint, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&entity.Account{}).
		Where("id = ?", id).
		Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *accountRepository) List(ctx context.Context, limit, offset int) ([]entity.Account, error) {
	var accounts []entity.Account
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// Delete removes the account together with its activity records.
func (r *accountRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&entity.ActivityLog{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&entity.Account{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
