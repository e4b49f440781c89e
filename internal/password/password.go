// Package password wraps bcrypt for account passwords and backup codes.
package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor for account passwords.
const Cost = 12

// backupCodeCost is lower than the password cost: ten codes are hashed in
// one request during enable/regenerate, and each code carries far more
// entropy than a human-chosen password.
const backupCodeCost = bcrypt.DefaultCost

// dummyHash is compared against whenever no real hash exists, so the login
// path costs the same for unknown and known accounts.
var dummyHash = mustDummyHash()

func mustDummyHash() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("taskhive-timing-equalizer"), Cost)
	if err != nil {
		panic(fmt.Sprintf("password: dummy hash: %v", err))
	}
	return h
}

// Hash returns the bcrypt digest of plaintext at the account-password cost.
func Hash(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), Cost)
	if err != nil {
		return "", fmt.Errorf("password: hash: %w", err)
	}
	return string(h), nil
}

// Verify reports whether plaintext matches hash.
func Verify(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// VerifyDummy burns one bcrypt comparison against a fixed hash and always
// reports false. Called on the "no such account" login path so response
// timing cannot distinguish missing accounts from wrong passwords.
func VerifyDummy(plaintext string) bool {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(plaintext))
	return false
}

// HashBackupCode returns the bcrypt digest of a single backup code.
func HashBackupCode(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(code), backupCodeCost)
	if err != nil {
		return "", fmt.Errorf("password: hash backup code: %w", err)
	}
	return string(h), nil
}

// VerifyBackupCode reports whether code matches a stored backup-code digest.
func VerifyBackupCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
