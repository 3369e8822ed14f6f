package repository_test

import (
	"context"
	"testing"

	"cardlink/internal/entity"
	"cardlink/internal/repository"
	"cardlink/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(email string) *entity.Account {
	return &entity.Account{Name: "Ana", Email: &email, Role: entity.AccountRoleUser, IsActive: true}
}

func TestUpdateSecurityIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewAccountRepository(testutil.OpenDB(t))
	account := newAccount("ana@example.com")
	require.NoError(t, repo.Create(ctx, account))
	assert.NotNil(t, account.TwoFactorRecoveryCodes)

	first, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateSecurity(ctx, first, map[string]any{"is_verified": true}))
	assert.Equal(t, uint(1), first.SecurityVersion)

	err = repo.UpdateSecurity(ctx, second, map[string]any{"is_verified": false})
	assert.ErrorIs(t, err, repository.ErrConcurrentUpdate)

	stored, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.Equal(t, uint(1), stored.SecurityVersion)

	require.NoError(t, repo.UpdateSecurity(ctx, first, map[string]any{"name": "Ana B"}))
}

func TestTwoFactorColumnsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewAccountRepository(testutil.OpenDB(t))
	account := newAccount("ana@example.com")
	require.NoError(t, repo.Create(ctx, account))

	enabled := entity.TwoFactorStateEnabled{Secret: "SECRET", RecoveryCodes: []string{"AAAA1111", "BBBB2222"}}
	require.NoError(t, repo.UpdateSecurity(ctx, account, entity.TwoFactorColumns(enabled)))

	stored, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, enabled, stored.TwoFactor())

	require.NoError(t, repo.UpdateSecurity(ctx, stored, entity.TwoFactorColumns(entity.TwoFactorStateDisabled{})))
	stored, err = repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TwoFactorStateDisabled{}, stored.TwoFactor())
}

func TestFindMissingAccount(t *testing.T) {
	repo := repository.NewAccountRepository(testutil.OpenDB(t))
	account, err := repo.FindByEmail(context.Background(), "ghost@example.com")
	assert.NoError(t, err)
	assert.Nil(t, account)
}

func TestDeleteRemovesActivity(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	accounts := repository.NewAccountRepository(db)
	logs := repository.NewActivityLogRepository(db)

	account := newAccount("ana@example.com")
	require.NoError(t, accounts.Create(ctx, account))
	require.NoError(t, logs.Create(ctx, &entity.ActivityLog{UserID: &account.ID, Activity: entity.Logout, IPAddress: "10.0.0.1"}))

	require.NoError(t, accounts.Delete(ctx, account.ID))

	remaining, err := logs.List(ctx, repository.ActivityFilter{UserID: account.ID})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestActivityLogIsImmutable(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	logs := repository.NewActivityLogRepository(db)

	record := &entity.ActivityLog{Activity: entity.LoginFailed, IPAddress: "10.0.0.1"}
	require.NoError(t, logs.Create(ctx, record))
	assert.NotEqual(t, "", record.ID.String())

	record.IPAddress = "10.0.0.2"
	err := db.WithContext(ctx).Save(record).Error
	assert.ErrorIs(t, err, entity.ErrImmutableRecord)
}
