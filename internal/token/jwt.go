// Package token mints, rotates, and revokes the access/refresh token pair.
// It owns the only critical section in the subsystem: rotation of a single
// refresh-token lineage.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/taskhive/taskhive/internal/apperr"
	"github.com/taskhive/taskhive/internal/store"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"

	// ChallengeTOTP tags a pending-2FA challenge token.
	ChallengeTOTP = "totp"
)

// ErrTokenInvalid covers bad signatures, expiry, and wrong token types.
// Deliberately generic: callers learn nothing about which check failed.
var ErrTokenInvalid = apperr.New(apperr.Unauthorized, "invalid token")

// AccessClaims is the short-lived assertion attached to API requests. The
// typ tag keeps refresh and pending-2FA tokens out of the access parser.
type AccessClaims struct {
	TokenType string `json:"typ"`
	Role      string `json:"role"`
	TenantID  string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// RefreshClaims is the long-lived assertion exchanged for new pairs. The
// jti is random per issuance; the raw token is never persisted.
type RefreshClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// ChallengeClaims is the short-lived pending-2FA assertion issued between
// password verification and second-factor verification. Fingerprint binds
// the challenge to the client that passed the password check.
type ChallengeClaims struct {
	Pending       bool   `json:"pending"`
	ChallengeType string `json:"challenge_type"`
	Fingerprint   string `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig carries signing parameters.
type JWTConfig struct {
	SigningKey   []byte
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ChallengeTTL time.Duration
}

// JWTManager signs and parses the three token shapes. HS256 only; the
// parser rejects every other algorithm.
type JWTManager struct {
	cfg JWTConfig
	now func() time.Time
}

func NewJWTManager(cfg JWTConfig) (*JWTManager, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("token: signing key required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return &JWTManager{cfg: cfg, now: time.Now}, nil
}

// SignAccess mints the access token for an account.
func (m *JWTManager) SignAccess(acct *store.Account) (string, error) {
	now := m.now()
	claims := AccessClaims{
		TokenType: typeAccess,
		Role:      string(acct.Role),
		TenantID:  acct.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.AccessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("token: sign access: %w", err)
	}
	return signed, nil
}

// SignRefresh mints a refresh token and returns the raw string, its jti,
// and its expiry.
func (m *JWTManager) SignRefresh(accountID string) (raw, jti string, expiresAt time.Time, err error) {
	now := m.now()
	jti = uuid.NewString()
	expiresAt = now.Add(m.cfg.RefreshTTL)

	claims := RefreshClaims{
		TokenType: typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   accountID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	raw, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.SigningKey)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("token: sign refresh: %w", err)
	}
	return raw, jti, expiresAt, nil
}

// ParseRefresh validates signature, expiry, and the typ=refresh tag.
func (m *JWTManager) ParseRefresh(raw string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := m.parse(raw, &claims); err != nil {
		return nil, err
	}
	if claims.TokenType != typeRefresh {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}

// SignChallenge mints a pending-2FA challenge token bound to the client
// fingerprint.
func (m *JWTManager) SignChallenge(accountID, challengeType, fingerprint string) (string, error) {
	now := m.now()
	claims := ChallengeClaims{
		Pending:       true,
		ChallengeType: challengeType,
		Fingerprint:   fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.ChallengeTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("token: sign challenge: %w", err)
	}
	return signed, nil
}

// ParseChallenge validates a pending-2FA token.
func (m *JWTManager) ParseChallenge(raw string) (*ChallengeClaims, error) {
	var claims ChallengeClaims
	if err := m.parse(raw, &claims); err != nil {
		return nil, err
	}
	if !claims.Pending {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}

// ParseAccess validates an access token. Refresh and pending-2FA tokens are
// rejected; a suspended login must never reach authenticated routes.
func (m *JWTManager) ParseAccess(raw string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := m.parse(raw, &claims); err != nil {
		return nil, err
	}
	if claims.TokenType != typeAccess {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}

func (m *JWTManager) parse(raw string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.cfg.SigningKey, nil
	})
	if err != nil || !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}
