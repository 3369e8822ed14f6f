package service

import (
	"errors"
	"time"

	"cardlink/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidMFAToken = errors.New("invalid mfa token")

const pendingTokenType = "2fa_pending"

// PendingTokenIssuerJWT mints the short-lived token handed out between the
// password check and the second-factor check.
type PendingTokenIssuerJWT struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Clock  Clock
}

type pendingClaims struct {
	UserID         uint   `json:"uid"`
	NeedsTwoFactor bool   `json:"needs2FA"`
	Type           string `json:"typ"`
	jwt.RegisteredClaims
}

func (m PendingTokenIssuerJWT) IssuePendingToken(userID uint) (string, time.Duration, error) {
	if err := utils.CheckSigningKey(m.Secret); err != nil {
		return "", 0, err
	}
	ttl := m.ttl()
	now := m.now()
	claims := pendingClaims{
		UserID:         userID,
		NeedsTwoFactor: true,
		Type:           pendingTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.Secret)
	if err != nil {
		return "", 0, err
	}
	return signed, ttl, nil
}

func (m PendingTokenIssuerJWT) ParsePendingToken(token string) (uint, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &pendingClaims{}, func(token *jwt.Token) (any, error) {
		return m.Secret, nil
	}, options...)
	if err != nil {
		return 0, ErrInvalidMFAToken
	}
	claims, ok := parsed.Claims.(*pendingClaims)
	if !ok || !parsed.Valid || claims.Type != pendingTokenType || !claims.NeedsTwoFactor || claims.UserID == 0 {
		return 0, ErrInvalidMFAToken
	}
	return claims.UserID, nil
}

func (m PendingTokenIssuerJWT) ttl() time.Duration {
	if m.TTL > 0 {
		return m.TTL
	}
	return 5 * time.Minute
}

func (m PendingTokenIssuerJWT) now() time.Time {
	if m.Clock == nil {
		return time.Now()
	}
	return m.Clock.Now()
}
