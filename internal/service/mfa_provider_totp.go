package service

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPAuthenticator is fixed to 6 digits, a 30 second step and one step of
// skew in each direction.
type TOTPAuthenticator struct {
	Issuer    string
	Period    uint
	Skew      uint
	Digits    otp.Digits
	Algorithm otp.Algorithm
	Clock     Clock
}

func NewTOTPAuthenticator(issuer string, clock Clock) *TOTPAuthenticator {
	return &TOTPAuthenticator{
		Issuer:    issuer,
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
		Clock:     clock,
	}
}

func (p *TOTPAuthenticator) GenerateKey(accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      fallbackIssuer(p.Issuer),
		AccountName: accountName,
		Period:      p.period(),
		Digits:      p.digits(),
		Algorithm:   p.algorithm(),
	})
}

func (p *TOTPAuthenticator) ValidateCode(secret string, code string) bool {
	code = strings.TrimSpace(code)
	if !isNumericCode(code, p.digits().Length()) {
		return false
	}
	valid, err := totp.ValidateCustom(code, secret, p.now(), p.validateOpts())
	return err == nil && valid
}

// CodeAt is used by tests and tooling to produce the code for a given instant.
func (p *TOTPAuthenticator) CodeAt(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, p.validateOpts())
}

func (p *TOTPAuthenticator) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    p.period(),
		Skew:      p.skew(),
		Digits:    p.digits(),
		Algorithm: p.algorithm(),
	}
}

// qrCodeDataURI renders the provisioning URL as a PNG data URI.
func qrCodeDataURI(key *otp.Key) (string, error) {
	img, err := key.Image(220, 220)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func isNumericCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (p *TOTPAuthenticator) now() time.Time {
	if p.Clock == nil {
		return time.Now()
	}
	return p.Clock.Now()
}

func (p *TOTPAuthenticator) period() uint {
	if p.Period == 0 {
		return 30
	}
	return p.Period
}

func (p *TOTPAuthenticator) skew() uint {
	if p.Skew == 0 {
		return 1
	}
	return p.Skew
}

func (p *TOTPAuthenticator) digits() otp.Digits {
	if p.Digits == 0 {
		return otp.DigitsSix
	}
	return p.Digits
}

func (p *TOTPAuthenticator) algorithm() otp.Algorithm {
	if p.Algorithm == 0 {
		return otp.AlgorithmSHA1
	}
	return p.Algorithm
}

func fallbackIssuer(issuer string) string {
	if strings.TrimSpace(issuer) == "" {
		return "Cardlink"
	}
	return issuer
}
