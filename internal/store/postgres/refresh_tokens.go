package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskhive/taskhive/internal/store"
)

// RefreshTokenRepo implements store.RefreshTokenRepository.
type RefreshTokenRepo struct {
	db *sql.DB
}

func NewRefreshTokenRepo(db *sql.DB) *RefreshTokenRepo {
	return &RefreshTokenRepo{db: db}
}

func (r *RefreshTokenRepo) Create(ctx context.Context, token *store.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, account_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		token.ID, token.AccountID, token.TokenHash, token.IssuedAt, token.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("postgres: create refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (*store.RefreshToken, error) {
	var t store.RefreshToken
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, token_hash, issued_at, expires_at, revoked_at
		FROM refresh_tokens WHERE token_hash = $1`,
		tokenHash,
	).Scan(&t.ID, &t.AccountID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load refresh token: %w", err)
	}
	return &t, nil
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: revoke refresh token: %w", err)
	}
	// Revoking an already revoked row is idempotent.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, id,
		).Scan(&exists); err == nil && !exists {
			return store.ErrNotFound
		}
	}
	return nil
}

func (r *RefreshTokenRepo) RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2`,
		accountID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: revoke account sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: rows affected: %w", err)
	}
	return int(n), nil
}

func (r *RefreshTokenRepo) LiveByAccount(ctx context.Context, accountID string, now time.Time) ([]*store.RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, token_hash, issued_at, expires_at, revoked_at
		FROM refresh_tokens
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY issued_at ASC`,
		accountID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list live sessions: %w", err)
	}
	defer rows.Close()

	var tokens []*store.RefreshToken
	for rows.Next() {
		var t store.RefreshToken
		if err := rows.Scan(&t.ID, &t.AccountID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan refresh token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list live sessions: %w", err)
	}
	return tokens, nil
}

func (r *RefreshTokenRepo) PurgeStale(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE id IN (
			SELECT id FROM refresh_tokens
			WHERE expires_at < $1 OR revoked_at < $1
			LIMIT $2
		)`,
		cutoff, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge stale tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: rows affected: %w", err)
	}
	return n, nil
}
