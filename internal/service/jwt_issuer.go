package service

import (
	"time"

	"cardlink/internal/entity"
	"cardlink/internal/utils"
)

type JWTSessionIssuer struct {
	Manager *utils.JWTManager
}

func (j JWTSessionIssuer) IssueSessionToken(account entity.Account, persistent bool) (string, time.Duration, error) {
	if j.Manager == nil {
		return "", 0, utils.ErrSigningKeyMissing
	}
	return j.Manager.IssueSessionToken(account.ID, account.EmailAddress(), string(account.Role), account.SessionVersion, persistent)
}
