// Package store defines the persistent domain model of the credential
// subsystem and the narrow repository interfaces the services depend on.
// Implementations live in store/postgres (production) and store/memory
// (tests).
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("store: duplicate")
)

// Role is the account role within its tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Tenant is the owning organization of a set of accounts.
type Tenant struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Account is the identity record. Password and lock fields are mutated by
// the credential store and lockout policy; two-factor fields only by the
// two-factor state machine. Accounts are deactivated, never hard-deleted,
// while audit history references them.
//
// Invariant: TwoFactorSecret is non-empty iff TwoFactorEnabled is true.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Role         Role
	TenantID     string
	Active       bool

	// PhoneEncrypted holds the deterministic ciphertext of the phone
	// number, kept equality-searchable for the uniqueness check.
	PhoneEncrypted string

	FailedLogins int
	LockUntil    *time.Time
	LastLoginAt  *time.Time

	TwoFactorEnabled   bool
	TwoFactorSecret    string // authenticated ciphertext, empty when disabled
	BackupCodeHashes   []string
	TwoFactorFailed    int
	TwoFactorLockUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RefreshToken is one issued refresh credential. The raw token is never
// persisted, only its SHA-256 hex digest. Rows are marked revoked, never
// deleted, except by retention cleanup.
type RefreshToken struct {
	ID        string
	AccountID string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Live reports whether the record is neither revoked nor expired at now.
func (t *RefreshToken) Live(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// AccountRepository is the account persistence surface. Mutating methods
// update only the field groups they name so concurrent flows touching
// disjoint groups cannot clobber each other.
type AccountRepository interface {
	// Create persists the account and its owning tenant atomically.
	// Returns ErrDuplicate if the email, encrypted phone, or tenant name
	// already exists.
	Create(ctx context.Context, acct *Account, tenant *Tenant) error
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	// UpdateLoginState persists FailedLogins, LockUntil, and LastLoginAt.
	UpdateLoginState(ctx context.Context, acct *Account) error
	// UpdateTwoFactor persists the two-factor field group, replacing the
	// stored backup-code set with acct.BackupCodeHashes.
	UpdateTwoFactor(ctx context.Context, acct *Account) error
	// ConsumeBackupCode permanently removes one stored digest.
	ConsumeBackupCode(ctx context.Context, accountID, codeHash string) error
}

// RefreshTokenRepository is the refresh-credential persistence surface.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	// GetByHash returns the record for a token digest, revoked or not.
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	// RevokeAllForAccount marks every live session revoked and reports how
	// many were affected. The compensating action for reuse detection.
	RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) (int, error)
	// LiveByAccount returns the non-revoked, non-expired records for an
	// account ordered by issuance time, oldest first.
	LiveByAccount(ctx context.Context, accountID string, now time.Time) ([]*RefreshToken, error)
	// PurgeStale deletes rows expired or revoked before cutoff. Retention
	// cleanup only; invoked by an external scheduler.
	PurgeStale(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
