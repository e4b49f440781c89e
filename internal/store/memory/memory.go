// Package memory provides in-process repository implementations. They back
// the service tests and mirror the transactional behavior of the postgres
// implementations closely enough to exercise every flow.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskhive/taskhive/internal/store"
)

// AccountRepo is a mutex-guarded in-memory store.AccountRepository.
type AccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*store.Account
	tenants  map[string]*store.Tenant
}

func NewAccountRepo() *AccountRepo {
	return &AccountRepo{
		accounts: make(map[string]*store.Account),
		tenants:  make(map[string]*store.Tenant),
	}
}

func (r *AccountRepo) Create(_ context.Context, acct *store.Account, tenant *store.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if existing.Email == acct.Email {
			return store.ErrDuplicate
		}
		if acct.PhoneEncrypted != "" && existing.PhoneEncrypted == acct.PhoneEncrypted {
			return store.ErrDuplicate
		}
	}
	for _, existing := range r.tenants {
		if existing.Name == tenant.Name {
			return store.ErrDuplicate
		}
	}

	r.tenants[tenant.ID] = cloneTenant(tenant)
	r.accounts[acct.ID] = cloneAccount(acct)
	return nil
}

func (r *AccountRepo) GetByEmail(_ context.Context, email string) (*store.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, acct := range r.accounts {
		if acct.Email == email {
			return cloneAccount(acct), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *AccountRepo) GetByID(_ context.Context, id string) (*store.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneAccount(acct), nil
}

func (r *AccountRepo) UpdateLoginState(_ context.Context, acct *store.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[acct.ID]
	if !ok {
		return store.ErrNotFound
	}
	stored.FailedLogins = acct.FailedLogins
	stored.LockUntil = cloneTime(acct.LockUntil)
	stored.LastLoginAt = cloneTime(acct.LastLoginAt)
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *AccountRepo) UpdateTwoFactor(_ context.Context, acct *store.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[acct.ID]
	if !ok {
		return store.ErrNotFound
	}
	stored.TwoFactorEnabled = acct.TwoFactorEnabled
	stored.TwoFactorSecret = acct.TwoFactorSecret
	stored.BackupCodeHashes = append([]string(nil), acct.BackupCodeHashes...)
	stored.TwoFactorFailed = acct.TwoFactorFailed
	stored.TwoFactorLockUntil = cloneTime(acct.TwoFactorLockUntil)
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *AccountRepo) ConsumeBackupCode(_ context.Context, accountID, codeHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	for i, h := range stored.BackupCodeHashes {
		if h == codeHash {
			stored.BackupCodeHashes = append(stored.BackupCodeHashes[:i], stored.BackupCodeHashes[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

// SetActive flips the active flag directly. Test helper for exercising the
// deactivated-account paths.
func (r *AccountRepo) SetActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acct, ok := r.accounts[id]; ok {
		acct.Active = active
	}
}

// RefreshTokenRepo is a mutex-guarded in-memory store.RefreshTokenRepository.
type RefreshTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*store.RefreshToken // by ID
}

func NewRefreshTokenRepo() *RefreshTokenRepo {
	return &RefreshTokenRepo{tokens: make(map[string]*store.RefreshToken)}
}

func (r *RefreshTokenRepo) Create(_ context.Context, token *store.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.tokens {
		if existing.TokenHash == token.TokenHash {
			return store.ErrDuplicate
		}
	}
	r.tokens[token.ID] = cloneToken(token)
	return nil
}

func (r *RefreshTokenRepo) GetByHash(_ context.Context, tokenHash string) (*store.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, token := range r.tokens {
		if token.TokenHash == tokenHash {
			return cloneToken(token), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *RefreshTokenRepo) Revoke(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[id]
	if !ok {
		return store.ErrNotFound
	}
	if token.RevokedAt == nil {
		at := at
		token.RevokedAt = &at
	}
	return nil
}

func (r *RefreshTokenRepo) RevokeAllForAccount(_ context.Context, accountID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	revoked := 0
	for _, token := range r.tokens {
		if token.AccountID == accountID && token.RevokedAt == nil {
			at := at
			token.RevokedAt = &at
			revoked++
		}
	}
	return revoked, nil
}

func (r *RefreshTokenRepo) LiveByAccount(_ context.Context, accountID string, now time.Time) ([]*store.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var live []*store.RefreshToken
	for _, token := range r.tokens {
		if token.AccountID == accountID && token.Live(now) {
			live = append(live, cloneToken(token))
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].IssuedAt.Before(live[j].IssuedAt) })
	return live, nil
}

func (r *RefreshTokenRepo) PurgeStale(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	for id, token := range r.tokens {
		if limit > 0 && purged >= int64(limit) {
			break
		}
		expired := token.ExpiresAt.Before(cutoff)
		longRevoked := token.RevokedAt != nil && token.RevokedAt.Before(cutoff)
		if expired || longRevoked {
			delete(r.tokens, id)
			purged++
		}
	}
	return purged, nil
}

func cloneAccount(a *store.Account) *store.Account {
	c := *a
	c.LockUntil = cloneTime(a.LockUntil)
	c.LastLoginAt = cloneTime(a.LastLoginAt)
	c.TwoFactorLockUntil = cloneTime(a.TwoFactorLockUntil)
	c.BackupCodeHashes = append([]string(nil), a.BackupCodeHashes...)
	return &c
}

func cloneTenant(t *store.Tenant) *store.Tenant {
	c := *t
	return &c
}

func cloneToken(t *store.RefreshToken) *store.RefreshToken {
	c := *t
	c.RevokedAt = cloneTime(t.RevokedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
