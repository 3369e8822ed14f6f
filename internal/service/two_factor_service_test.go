package service

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"cardlink/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recoveryCodePattern = regexp.MustCompile(`^[0-9A-F]{8}$`)

func TestSetupTwoFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createAccount(t, "ana@example.com")

	first, err := h.svc.SetupTwoFactor(ctx, account.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Secret)
	assert.True(t, strings.HasPrefix(first.OTPAuthURL, "otpauth://totp/"))
	assert.Contains(t, first.OTPAuthURL, "example.com")
	assert.True(t, strings.HasPrefix(first.QRCode, "data:image/png;base64,"))

	second, err := h.svc.SetupTwoFactor(ctx, account.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Secret, second.Secret)

	state, ok := h.reload(t, account.ID).TwoFactor().(entity.TwoFactorStatePending)
	require.True(t, ok)
	assert.Equal(t, second.Secret, state.Secret)
}

func TestEnableTwoFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createAccount(t, "ana@example.com")

	_, err := h.svc.EnableTwoFactor(ctx, account.ID, "123456", testMeta)
	assert.ErrorIs(t, err, ErrSetupNotStarted)

	setup, err := h.svc.SetupTwoFactor(ctx, account.ID)
	require.NoError(t, err)
	stale, err := h.totp.CodeAt(setup.Secret, h.clock.Now().Add(-2*time.Minute))
	require.NoError(t, err)
	_, err = h.svc.EnableTwoFactor(ctx, account.ID, stale, testMeta)
	assert.ErrorIs(t, err, ErrInvalidCode)

	code, err := h.totp.CodeAt(setup.Secret, h.clock.Now())
	require.NoError(t, err)
	codes, err := h.svc.EnableTwoFactor(ctx, account.ID, code, testMeta)
	require.NoError(t, err)
	require.Len(t, codes, 5)
	for _, recovery := range codes {
		assert.Regexp(t, recoveryCodePattern, recovery)
	}

	state, ok := h.reload(t, account.ID).TwoFactor().(entity.TwoFactorStateEnabled)
	require.True(t, ok)
	assert.Equal(t, setup.Secret, state.Secret)
	assert.ElementsMatch(t, codes, state.RecoveryCodes)

	_, err = h.svc.EnableTwoFactor(ctx, account.ID, code, testMeta)
	assert.ErrorIs(t, err, ErrAlreadyEnabled)
	_, err = h.svc.SetupTwoFactor(ctx, account.ID)
	assert.ErrorIs(t, err, ErrAlreadyEnabled)

	assert.Equal(t, []notification{{kind: "2fa", userID: account.ID, enabled: true}}, h.notifier.snapshot())
	assert.Equal(t, 1, countActivity(h.activities(t, account.ID), entity.TwoFactorEnabled))
}

func TestDisableTwoFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createAccount(t, "ana@example.com")

	assert.ErrorIs(t, h.svc.DisableTwoFactor(ctx, account.ID, testMeta), ErrNotEnabled)

	_, err := h.svc.SetupTwoFactor(ctx, account.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, h.svc.DisableTwoFactor(ctx, account.ID, testMeta), ErrNotEnabled)

	h.enableTwoFactor(t, account)
	h.notifier.err = errBoom

	require.NoError(t, h.svc.DisableTwoFactor(ctx, account.ID, testMeta))

	reloaded := h.reload(t, account.ID)
	assert.IsType(t, entity.TwoFactorStateDisabled{}, reloaded.TwoFactor())
	assert.False(t, reloaded.TwoFactorEnabled)
	assert.Nil(t, reloaded.TwoFactorSecret)
	assert.Empty(t, reloaded.TwoFactorRecoveryCodes)

	events := h.notifier.snapshot()
	require.Len(t, events, 2)
	assert.False(t, events[1].enabled)
	assert.Equal(t, 1, countActivity(h.activities(t, account.ID), entity.TwoFactorDisabled))

	result, err := h.svc.Login(ctx, LoginInput{Email: "ana@example.com", Password: testPassword, Request: testMeta})
	require.NoError(t, err)
	assert.False(t, result.RequiresTwoFactor)
}

func TestLoginWithTwoFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createAccount(t, "ana@example.com")
	secret, _ := h.enableTwoFactor(t, account)

	result, err := h.svc.Login(ctx, LoginInput{Email: "ana@example.com", Password: testPassword, Request: testMeta})
	require.NoError(t, err)
	assert.True(t, result.RequiresTwoFactor)
	assert.Empty(t, result.Token)
	assert.Equal(t, int64(300), result.TempTokenExpiresIn)

	passwordStage := h.activities(t, account.ID)
	require.Equal(t, 1, countActivity(passwordStage, entity.LoginSuccess))
	for _, log := range passwordStage {
		if log.Activity == entity.LoginSuccess {
			assert.Equal(t, "password", detail(t, log, "stage"))
			assert.Equal(t, "pending", detail(t, log, "second_factor"))
		}
	}

	_, err = h.sessions.ParseSessionToken(result.TempToken)
	assert.Error(t, err, "pending token must not authenticate requests")

	h.clock.Advance(4*time.Minute + 59*time.Second)
	code, err := h.totp.CodeAt(secret, h.clock.Now())
	require.NoError(t, err)
	session, err := h.svc.LoginWithTwoFactor(ctx, LoginTwoFactorInput{TempToken: result.TempToken, Code: code, Request: testMeta})
	require.NoError(t, err)

	claims, err := h.sessions.ParseSessionToken(session.Token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.UserID)

	logs := h.activities(t, account.ID)
	require.Equal(t, 2, countActivity(logs, entity.LoginSuccess))
	stages := map[any]any{}
	for _, log := range logs {
		if log.Activity == entity.LoginSuccess {
			stages[detail(t, log, "stage")] = detail(t, log, "second_factor")
		}
	}
	assert.Equal(t, map[any]any{"password": "pending", "second_factor": methodTOTP}, stages)
}

func TestLoginWithTwoFactorLocksAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createAccount(t, "ana@example.com")
	secret, _ := h.enableTwoFactor(t, account)

	result, err := h.svc.Login(ctx, LoginInput{Email: "ana@example.com", Password: testPassword, Request: testMeta})
	require.NoError(t, err)

	for i := 0; i < maxSecondFactorFailures; i++ {
		_, err = h.svc.LoginWithTwoFactor(ctx, LoginTwoFactorInput{TempToken: result.TempToken, Code: "000000x", Request: testMeta})
		require.ErrorIs(t, err, ErrInvalidCode)
	}

	code, err := h.totp.CodeAt(secret, h.clock.Now())
	require.NoError(t, err)
	_, err = h.svc.LoginWithTwoFactor(ctx, LoginTwoFactorInput{TempToken: result.TempToken, Code: code, Request: testMeta})
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	h.clock.Advance(secondFactorFailureWindow + time.Second)
	fresh, err := h.svc.Login(ctx, LoginInput{Email: "ana@example.com", Password: testPassword, Request: testMeta})
	require.NoError(t, err)
	code, err = h.totp.CodeAt(secret, h.clock.Now())
	require.NoError(t, err)
	session, err := h.svc.LoginWithTwoFactor(ctx, LoginTwoFactorInput{TempToken: fresh.TempToken, Code: code, Request: testMeta})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
}

func TestPendingTokenExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createAccount(t, "ana@example.com")
	secret, _ := h.enableTwoFactor(t, account)

	result, err := h.svc.Login(ctx, LoginInput{Email: "ana@example.com", Password: testPassword, Request: testMeta})
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	code, err := h.totp.CodeAt(secret, h.clock.Now())
	require.NoError(t, err)
	_, err = h.svc.LoginWithTwoFactor(ctx, LoginTwoFactorInput{TempToken: result.TempToken, Code: code, Request: testMeta})
	assert.ErrorIs(t, err, ErrInvalidPendingToken)
}

func TestSessionTokenIsNotAPendingToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createAccount(t, "ana@example.com")

	result, err := h.svc.Login(ctx, LoginInput{Email: "ana@example.com", Password: testPassword, Request: testMeta})
	require.NoError(t, err)

	_, err = h.svc.LoginWithTwoFactor(ctx, LoginTwoFactorInput{TempToken: result.Token, Code: "123456", Request: testMeta})
	assert.ErrorIs(t, err, ErrInvalidPendingToken)
}

func TestLoginWithTwoFactorWrongCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createAccount(t, "ana@example.com")
	h.enableTwoFactor(t, account)

	result, err := h.svc.Login(ctx, LoginInput{Email: "ana@example.com", Password: testPassword, Request: testMeta})
	require.NoError(t, err)

	_, err = h.svc.LoginWithTwoFactor(ctx, LoginTwoFactorInput{TempToken: result.TempToken, Code: "000000x", Request: testMeta})
	assert.ErrorIs(t, err, ErrInvalidCode)

	logs := h.activities(t, account.ID)
	require.Equal(t, 1, countActivity(logs, entity.LoginFailed))
	for _, log := range logs {
		if log.Activity == entity.LoginFailed {
			assert.Equal(t, "invalid_second_factor", detail(t, log, "reason"))
		}
	}
}

func TestLoginWithTwoFactorDeactivatedAfterPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createAccount(t, "ana@example.com")
	secret, _ := h.enableTwoFactor(t, account)

	result, err := h.svc.Login(ctx, LoginInput{Email: "ana@example.com", Password: testPassword, Request: testMeta})
	require.NoError(t, err)
	require.NoError(t, h.svc.SetAccountActive(ctx, account.ID, false))

	code, err := h.totp.CodeAt(secret, h.clock.Now())
	require.NoError(t, err)
	_, err = h.svc.LoginWithTwoFactor(ctx, LoginTwoFactorInput{TempToken: result.TempToken, Code: code, Request: testMeta})
	assert.ErrorIs(t, err, ErrAccountDeactivated)
}

func TestTOTPSkewWindow(t *testing.T) {
	h := newHarness(t)
	secret := "JBSWY3DPEHPK3PXP"
	now := h.clock.Now()

	tests := []struct {
		offset time.Duration
		valid  bool
	}{
		{offset: 0, valid: true},
		{offset: -30 * time.Second, valid: true},
		{offset: 30 * time.Second, valid: true},
		{offset: -60 * time.Second, valid: false},
		{offset: 60 * time.Second, valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.offset.String(), func(t *testing.T) {
			code, err := h.totp.CodeAt(secret, now.Add(tt.offset))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, h.totp.ValidateCode(secret, code))
		})
	}
}

func TestTOTPRejectsMalformedCodes(t *testing.T) {
	h := newHarness(t)
	secret := "JBSWY3DPEHPK3PXP"
	code, err := h.totp.CodeAt(secret, h.clock.Now())
	require.NoError(t, err)

	assert.False(t, h.totp.ValidateCode(secret, code[:5]))
	assert.False(t, h.totp.ValidateCode(secret, code+"0"))
	assert.False(t, h.totp.ValidateCode(secret, "12a456"))
	assert.True(t, h.totp.ValidateCode(secret, " "+code+" "))
}

func TestRecoveryCodeIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createAccount(t, "ana@example.com")
	_, codes := h.enableTwoFactor(t, account)

	login := func() (*LoginResult, error) {
		pending, err := h.svc.Login(ctx, LoginInput{Email: "ana@example.com", Password: testPassword, Request: testMeta})
		require.NoError(t, err)
		return h.svc.LoginWithTwoFactor(ctx, LoginTwoFactorInput{TempToken: pending.TempToken, Code: codes[2], Request: testMeta})
	}

	result, err := login()
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	state, ok := h.reload(t, account.ID).TwoFactor().(entity.TwoFactorStateEnabled)
	require.True(t, ok)
	assert.Len(t, state.RecoveryCodes, 4)
	assert.NotContains(t, state.RecoveryCodes, codes[2])

	_, err = login()
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestRecoveryCodeConcurrentSpend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createAccount(t, "ana@example.com")
	_, codes := h.enableTwoFactor(t, account)

	tokens := make([]string, 2)
	for i := range tokens {
		pending, err := h.svc.Login(ctx, LoginInput{Email: "ana@example.com", Password: testPassword, Request: testMeta})
		require.NoError(t, err)
		tokens[i] = pending.TempToken
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for _, token := range tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			_, err := h.svc.LoginWithTwoFactor(ctx, LoginTwoFactorInput{TempToken: token, Code: codes[0], Request: testMeta})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}(token)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrInvalidCode)

	state, ok := h.reload(t, account.ID).TwoFactor().(entity.TwoFactorStateEnabled)
	require.True(t, ok)
	assert.Len(t, state.RecoveryCodes, 4)
}

func TestVerifyLoginCodeRetriesAfterConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createAccount(t, "ana@example.com")
	_, codes := h.enableTwoFactor(t, account)

	stale := h.reload(t, account.ID)
	fresh := h.reload(t, account.ID)

	method, err := h.svc.verifyLoginCode(ctx, fresh, codes[1])
	require.NoError(t, err)
	assert.Equal(t, methodRecoveryCode, method)

	method, err = h.svc.verifyLoginCode(ctx, stale, codes[3])
	require.NoError(t, err)
	assert.Equal(t, methodRecoveryCode, method)

	_, err = h.svc.verifyLoginCode(ctx, h.reload(t, account.ID), codes[1])
	assert.ErrorIs(t, err, ErrInvalidCode)

	state := h.reload(t, account.ID).TwoFactor().(entity.TwoFactorStateEnabled)
	assert.ElementsMatch(t, []string{codes[0], codes[2], codes[4]}, state.RecoveryCodes)
}
