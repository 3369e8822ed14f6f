package entity

import (
	"errors"
	"slices"

	"gorm.io/datatypes"
)

var ErrImmutableRecord = errors.New("activity records are immutable")

// TwoFactorState is one of TwoFactorStateDisabled, TwoFactorStatePending or TwoFactorStateEnabled.
type TwoFactorState interface {
	twoFactorState()
}

type TwoFactorStateDisabled struct{}

type TwoFactorStatePending struct {
	Secret string
}

type TwoFactorStateEnabled struct {
	Secret        string
	RecoveryCodes []string
}

func (TwoFactorStateDisabled) twoFactorState() {}
func (TwoFactorStatePending) twoFactorState()  {}
func (TwoFactorStateEnabled) twoFactorState()  {}

// TwoFactor derives the second-factor state from the stored columns.
// An enabled flag without a secret is treated as disabled.
func (a *Account) TwoFactor() TwoFactorState {
	if a.TwoFactorSecret == nil || *a.TwoFactorSecret == "" {
		return TwoFactorStateDisabled{}
	}
	if !a.TwoFactorEnabled {
		return TwoFactorStatePending{Secret: *a.TwoFactorSecret}
	}
	return TwoFactorStateEnabled{
		Secret:        *a.TwoFactorSecret,
		RecoveryCodes: slices.Clone([]string(a.TwoFactorRecoveryCodes)),
	}
}

// TwoFactorColumns returns the column assignments that persist state.
func TwoFactorColumns(state TwoFactorState) map[string]any {
	switch s := state.(type) {
	case TwoFactorStatePending:
		return map[string]any{
			"two_factor_enabled":        false,
			"two_factor_secret":         s.Secret,
			"two_factor_recovery_codes": RecoveryCodes(nil),
		}
	case TwoFactorStateEnabled:
		return map[string]any{
			"two_factor_enabled":        true,
			"two_factor_secret":         s.Secret,
			"two_factor_recovery_codes": RecoveryCodes(s.RecoveryCodes),
		}
	default:
		return map[string]any{
			"two_factor_enabled":        false,
			"two_factor_secret":         nil,
			"two_factor_recovery_codes": RecoveryCodes(nil),
		}
	}
}

// RecoveryCodes wraps codes for storage. A nil list is stored as an empty array.
func RecoveryCodes(codes []string) datatypes.JSONSlice[string] {
	if codes == nil {
		codes = []string{}
	}
	return datatypes.NewJSONSlice(codes)
}
