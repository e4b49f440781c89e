// Package totp wraps pquerna/otp for shared-secret provisioning and
// time-step code verification.
package totp

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period is the TOTP time step in seconds.
	Period = 30
	// DefaultSkew accepts codes up to two steps either side of now to
	// absorb authenticator clock drift.
	DefaultSkew = 2

	secretSize = 20
)

// Provision carries a freshly generated shared secret and the otpauth://
// payload an authenticator app enrolls from.
type Provision struct {
	Secret    string
	QRPayload string
}

// GenerateSecret produces a new random shared secret for the given account
// label. Nothing is persisted here; the secret only sticks once the caller
// confirms a code against it.
func GenerateSecret(issuer, account string) (Provision, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		SecretSize:  secretSize,
		Period:      Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Provision{}, fmt.Errorf("totp: generate secret: %w", err)
	}
	return Provision{Secret: key.Secret(), QRPayload: key.URL()}, nil
}

// Verify checks code against secret at the given instant, accepting skew
// steps of drift in either direction.
func Verify(secret, code string, at time.Time, skew uint) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    Period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// Code derives the current code for secret at the given instant. Test-side
// counterpart of Verify.
func Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCode(secret, at)
}
