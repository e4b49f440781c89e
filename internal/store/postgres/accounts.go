package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskhive/taskhive/internal/store"
)

// AccountRepo implements store.AccountRepository.
type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

const accountColumns = `
	id, email, password_hash, display_name, role, tenant_id, active,
	COALESCE(phone_encrypted, ''), failed_logins, lock_until, last_login_at,
	two_factor_enabled, two_factor_secret, two_factor_failed,
	two_factor_lock_until, created_at, updated_at`

func (r *AccountRepo) Create(ctx context.Context, acct *store.Account, tenant *store.Tenant) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tenants (id, name, created_at) VALUES ($1, $2, $3)`,
			tenant.ID, tenant.Name, tenant.CreatedAt,
		); err != nil {
			return err
		}

		var phone any
		if acct.PhoneEncrypted != "" {
			phone = acct.PhoneEncrypted
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (
				id, email, password_hash, display_name, role, tenant_id,
				active, phone_encrypted, failed_logins, lock_until,
				last_login_at, two_factor_enabled, two_factor_secret,
				two_factor_failed, two_factor_lock_until, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, NULL, NULL,
				FALSE, '', 0, NULL, $9, $10)`,
			acct.ID, acct.Email, acct.PasswordHash, acct.DisplayName,
			acct.Role, acct.TenantID, acct.Active, phone,
			acct.CreatedAt, acct.UpdatedAt,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("postgres: create account: %w", err)
	}
	return nil
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*store.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return r.scanAccount(ctx, row)
}

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*store.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return r.scanAccount(ctx, row)
}

func (r *AccountRepo) scanAccount(ctx context.Context, row *sql.Row) (*store.Account, error) {
	var acct store.Account
	err := row.Scan(
		&acct.ID, &acct.Email, &acct.PasswordHash, &acct.DisplayName,
		&acct.Role, &acct.TenantID, &acct.Active, &acct.PhoneEncrypted,
		&acct.FailedLogins, &acct.LockUntil, &acct.LastLoginAt,
		&acct.TwoFactorEnabled, &acct.TwoFactorSecret, &acct.TwoFactorFailed,
		&acct.TwoFactorLockUntil, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan account: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT code_hash FROM backup_codes WHERE account_id = $1 ORDER BY code_hash`,
		acct.ID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load backup codes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("postgres: scan backup code: %w", err)
		}
		acct.BackupCodeHashes = append(acct.BackupCodeHashes, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load backup codes: %w", err)
	}
	return &acct, nil
}

func (r *AccountRepo) UpdateLoginState(ctx context.Context, acct *store.Account) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET failed_logins = $2, lock_until = $3, last_login_at = $4,
		    updated_at = now()
		WHERE id = $1`,
		acct.ID, acct.FailedLogins, acct.LockUntil, acct.LastLoginAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update login state: %w", err)
	}
	return requireRow(res)
}

func (r *AccountRepo) UpdateTwoFactor(ctx context.Context, acct *store.Account) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE accounts
			SET two_factor_enabled = $2, two_factor_secret = $3,
			    two_factor_failed = $4, two_factor_lock_until = $5,
			    updated_at = now()
			WHERE id = $1`,
			acct.ID, acct.TwoFactorEnabled, acct.TwoFactorSecret,
			acct.TwoFactorFailed, acct.TwoFactorLockUntil,
		)
		if err != nil {
			return err
		}
		if err := requireRow(res); err != nil {
			return err
		}

		// Replace the stored set wholesale with the caller's view.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM backup_codes WHERE account_id = $1`, acct.ID); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, hash := range acct.BackupCodeHashes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO backup_codes (account_id, code_hash, created_at)
				 VALUES ($1, $2, $3)`,
				acct.ID, hash, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("postgres: update two-factor: %w", err)
	}
	return nil
}

func (r *AccountRepo) ConsumeBackupCode(ctx context.Context, accountID, codeHash string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE account_id = $1 AND code_hash = $2`,
		accountID, codeHash)
	if err != nil {
		return fmt.Errorf("postgres: consume backup code: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
