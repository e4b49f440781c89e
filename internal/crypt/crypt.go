// Package crypt is the symmetric-cryptography leaf of the credential
// subsystem. Every other component routes encryption, token hashing, random
// generation, and credential comparison through this package.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/taskhive/taskhive/internal/apperr"
)

const (
	// KeySize is the required length of both cipher keys after base64
	// decoding. Startup rejects anything else.
	KeySize = 32

	nonceSize = 12
	tagSize   = 16
)

// ErrDecryption is returned on any ciphertext integrity or format failure.
// Callers must treat it as fatal, never as "empty plaintext".
var ErrDecryption = apperr.New(apperr.Decryption, "ciphertext integrity check failed")

// deterministicNonce is the fixed nonce for equality-searchable fields.
// Safe only because the deterministic key is used for nothing else.
var deterministicNonce = make([]byte, nonceSize)

// Cipher holds the two AEADs used by the subsystem: a random-nonce one for
// secrets and a fixed-nonce one for fields that must stay equality-queryable
// under encryption.
type Cipher struct {
	secret        cipher.AEAD
	deterministic cipher.AEAD
}

// New builds a Cipher from the two 32-byte keys. The keys must differ;
// reusing the secret key for deterministic encryption would let fixed-nonce
// ciphertexts leak into the random-nonce domain.
func New(secretKey, deterministicKey []byte) (*Cipher, error) {
	if len(secretKey) != KeySize || len(deterministicKey) != KeySize {
		return nil, fmt.Errorf("crypt: keys must be exactly %d bytes", KeySize)
	}
	if subtle.ConstantTimeCompare(secretKey, deterministicKey) == 1 {
		return nil, fmt.Errorf("crypt: secret and deterministic keys must differ")
	}

	sec, err := newGCM(secretKey)
	if err != nil {
		return nil, err
	}
	det, err := newGCM(deterministicKey)
	if err != nil {
		return nil, err
	}
	return &Cipher{secret: sec, deterministic: det}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypt: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypt: init gcm: %w", err)
	}
	return aead, nil
}

// EncryptSecret encrypts plaintext with AES-256-GCM under a fresh random
// 96-bit nonce. The persisted form is "nonce:ciphertext:tag", each segment
// base64-encoded, so one opaque string round-trips through storage.
func (c *Cipher) EncryptSecret(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypt: nonce: %w", err)
	}

	sealed := c.secret.Seal(nil, nonce, []byte(plaintext), nil)
	return encodeSegments(nonce, sealed), nil
}

// DecryptSecret reverses EncryptSecret. Any malformed input or failed tag
// verification yields ErrDecryption.
func (c *Cipher) DecryptSecret(ciphertext string) (string, error) {
	nonce, sealed, err := decodeSegments(ciphertext)
	if err != nil {
		return "", err
	}
	plaintext, err := c.secret.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

// EncryptDeterministic encrypts plaintext under the deterministic key with a
// fixed nonce: identical plaintexts always produce identical ciphertexts, so
// the column stays usable for equality lookups and uniqueness constraints.
// Must never be used for two-factor secrets or anything needing
// non-correlatable ciphertexts.
func (c *Cipher) EncryptDeterministic(plaintext string) string {
	sealed := c.deterministic.Seal(nil, deterministicNonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed)
}

// DecryptDeterministic reverses EncryptDeterministic.
func (c *Cipher) DecryptDeterministic(ciphertext string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryption
	}
	plaintext, err := c.deterministic.Open(nil, deterministicNonce, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

func encodeSegments(nonce, sealed []byte) string {
	// GCM appends the tag to the ciphertext; split it back out so the
	// stored format is nonce:ciphertext:tag.
	body := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return base64.StdEncoding.EncodeToString(nonce) + ":" +
		base64.StdEncoding.EncodeToString(body) + ":" +
		base64.StdEncoding.EncodeToString(tag)
}

func decodeSegments(s string) (nonce, sealed []byte, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, nil, ErrDecryption
	}
	nonce, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, nil, ErrDecryption
	}
	body, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, ErrDecryption
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(tag) != tagSize {
		return nil, nil, ErrDecryption
	}
	return nonce, append(body, tag...), nil
}

// ConstantTimeEqual compares two byte slices without leaking the position of
// the first mismatch. All credential and token equality checks in the
// subsystem route through here.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// RandomToken returns byteLength bytes of CSPRNG output, hex-encoded.
func RandomToken(byteLength int) (string, error) {
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypt: random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 hex digest of raw. Used wherever a
// high-entropy token must be stored or keyed without persisting the raw
// value (refresh tokens, lock keys).
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
