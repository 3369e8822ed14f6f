package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrSigningKeyMissing = errors.New("jwt signing key must be at least 32 bytes")
)

const (
	MinSigningKeyLength  = 32
	DefaultSessionTTL    = 24 * time.Hour
	DefaultPersistentTTL = 7 * 24 * time.Hour

	sessionTokenType = "session"
)

type JWTManager struct {
	Secret        []byte
	Issuer        string
	SessionTTL    time.Duration
	PersistentTTL time.Duration
	Now           func() time.Time
}

type SessionClaims struct {
	UserID         uint   `json:"uid"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	Type           string `json:"typ"`
	NeedsTwoFactor bool   `json:"needs2FA,omitempty"`
	SessionVersion uint   `json:"sv"`
	jwt.RegisteredClaims
}

// CheckSigningKey reports whether secret is usable for HS256 signing.
func CheckSigningKey(secret []byte) error {
	if len(secret) < MinSigningKeyLength {
		return ErrSigningKeyMissing
	}
	return nil
}

func (m JWTManager) IssueSessionToken(userID uint, email string, role string, sessionVersion uint, persistent bool) (string, time.Duration, error) {
	if err := CheckSigningKey(m.Secret); err != nil {
		return "", 0, err
	}
	ttl := m.sessionTTL()
	if persistent {
		ttl = m.persistentTTL()
	}
	now := m.now()
	claims := SessionClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		Type:   sessionTokenType,
		SessionVersion: sessionVersion,
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

// ParseSessionToken accepts only full session tokens; pending second-factor
// tokens signed with the same key are rejected.
func (m JWTManager) ParseSessionToken(tokenString string) (*SessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		return m.Secret, nil
	}, m.parserOptions()...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != sessionTokenType || claims.NeedsTwoFactor || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m JWTManager) parserOptions() []jwt.ParserOption {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.Issuer))
	}
	return options
}

func (m JWTManager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m JWTManager) sessionTTL() time.Duration {
	if m.SessionTTL > 0 {
		return m.SessionTTL
	}
	return DefaultSessionTTL
}

func (m JWTManager) persistentTTL() time.Duration {
	if m.PersistentTTL > 0 {
		return m.PersistentTTL
	}
	return DefaultPersistentTTL
}
