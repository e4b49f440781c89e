package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskhive/taskhive/internal/apperr"
	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/crypt"
	"github.com/taskhive/taskhive/internal/lock"
	"github.com/taskhive/taskhive/internal/notify"
	"github.com/taskhive/taskhive/internal/store"
)

var (
	// ErrRefreshInvalid covers absent, expired, and revoked-without-reuse
	// refresh tokens. Same user-visible shape as reuse so a thief learns
	// nothing from the response.
	ErrRefreshInvalid = apperr.New(apperr.Unauthorized, "invalid refresh token")
	// ErrRefreshInProgress is returned to the losers of a rotation race.
	ErrRefreshInProgress = apperr.New(apperr.Conflict, "refresh already in progress")
	// ErrSessionMismatch is returned when a caller tries to revoke a
	// session that belongs to a different account.
	ErrSessionMismatch = apperr.New(apperr.Forbidden, "session does not belong to caller")
	// ErrAccountInactive is returned when the owning account was
	// deactivated after the token was issued.
	ErrAccountInactive = apperr.New(apperr.Unauthorized, "invalid refresh token")
)

const lockKeyPrefix = "refresh:"

// EngineConfig tunes session capping and rotation locking.
type EngineConfig struct {
	// SessionCap is the maximum number of live refresh records per
	// account. Exceeding it evicts the oldest session.
	SessionCap int
	// LockTTL bounds how long a rotation can hold the distributed mutex.
	LockTTL time.Duration
}

// Engine is the token issuance and rotation engine.
type Engine struct {
	jwt      *JWTManager
	refresh  store.RefreshTokenRepository
	accounts store.AccountRepository
	locks    lock.DistributedLock
	recorder *audit.Recorder
	notifier notify.Notifier
	cfg      EngineConfig
	now      func() time.Time
}

// Pair is one issued access/refresh pair.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// SessionInfo describes one live refresh session for introspection.
type SessionInfo struct {
	ID        string    `json:"id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewEngine(
	jwtManager *JWTManager,
	refreshRepo store.RefreshTokenRepository,
	accountRepo store.AccountRepository,
	locks lock.DistributedLock,
	recorder *audit.Recorder,
	notifier notify.Notifier,
	cfg EngineConfig,
) *Engine {
	if cfg.SessionCap <= 0 {
		cfg.SessionCap = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * time.Second
	}
	if notifier == nil {
		notifier = notify.NoOp{}
	}
	return &Engine{
		jwt:      jwtManager,
		refresh:  refreshRepo,
		accounts: accountRepo,
		locks:    locks,
		recorder: recorder,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the engine clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Issue mints a fresh access/refresh pair for acct, evicting the oldest
// live session first when the account is at its session cap.
func (e *Engine) Issue(ctx context.Context, acct *store.Account) (Pair, error) {
	now := e.now().UTC()

	live, err := e.refresh.LiveByAccount(ctx, acct.ID, now)
	if err != nil {
		return Pair{}, fmt.Errorf("token: list sessions: %w", err)
	}
	// Evict oldest-first until the new session fits under the cap.
	for i := 0; len(live)-i >= e.cfg.SessionCap; i++ {
		if err := e.refresh.Revoke(ctx, live[i].ID, now); err != nil {
			return Pair{}, fmt.Errorf("token: evict session: %w", err)
		}
	}

	access, err := e.jwt.SignAccess(acct)
	if err != nil {
		return Pair{}, err
	}
	rawRefresh, jti, expiresAt, err := e.jwt.SignRefresh(acct.ID)
	if err != nil {
		return Pair{}, err
	}

	record := &store.RefreshToken{
		ID:        jti,
		AccountID: acct.ID,
		TokenHash: crypt.HashToken(rawRefresh),
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if err := e.refresh.Create(ctx, record); err != nil {
		return Pair{}, fmt.Errorf("token: persist refresh: %w", err)
	}

	e.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionTokenIssued,
		AccountID: acct.ID,
		Resource:  jti,
		Success:   true,
	})

	return Pair{
		AccessToken:  access,
		RefreshToken: rawRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.jwt.cfg.AccessTTL.Seconds()),
	}, nil
}

// Refresh exchanges a raw refresh token for a fresh pair. Rotation is
// strictly linear per lineage: the presented token is revoked before the
// replacement is returned, and a revoked token presented again is treated
// as a compromise indicator that revokes the whole session family.
func (e *Engine) Refresh(ctx context.Context, rawRefresh string) (Pair, error) {
	if _, err := e.jwt.ParseRefresh(rawRefresh); err != nil {
		return Pair{}, err
	}

	tokenHash := crypt.HashToken(rawRefresh)
	lease, acquired, err := e.locks.TryAcquire(ctx, lockKeyPrefix+tokenHash, e.cfg.LockTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("token: acquire rotation lock: %w", err)
	}
	if !acquired {
		return Pair{}, ErrRefreshInProgress
	}
	// Released on every exit path; the lease frees only this acquisition,
	// so a rotation that outlives its TTL cannot unlock a later holder.
	defer func() {
		_ = lease.Release(context.WithoutCancel(ctx))
	}()

	now := e.now().UTC()

	record, err := e.refresh.GetByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Pair{}, ErrRefreshInvalid
		}
		return Pair{}, fmt.Errorf("token: load refresh: %w", err)
	}

	if record.RevokedAt != nil {
		return Pair{}, e.handleReuse(ctx, record, now)
	}
	if !now.Before(record.ExpiresAt) {
		if err := e.refresh.Revoke(ctx, record.ID, now); err != nil {
			return Pair{}, fmt.Errorf("token: revoke expired refresh: %w", err)
		}
		return Pair{}, ErrRefreshInvalid
	}

	acct, err := e.accounts.GetByID(ctx, record.AccountID)
	if err != nil {
		return Pair{}, ErrRefreshInvalid
	}
	if !acct.Active {
		if err := e.refresh.Revoke(ctx, record.ID, now); err != nil {
			return Pair{}, fmt.Errorf("token: revoke refresh: %w", err)
		}
		return Pair{}, ErrAccountInactive
	}

	if err := e.refresh.Revoke(ctx, record.ID, now); err != nil {
		return Pair{}, fmt.Errorf("token: revoke rotated refresh: %w", err)
	}

	pair, err := e.Issue(ctx, acct)
	if err != nil {
		return Pair{}, err
	}

	e.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionTokenRefreshed,
		AccountID: acct.ID,
		Resource:  record.ID,
		Success:   true,
	})
	return pair, nil
}

// handleReuse escalates presentation of an already-revoked token: the whole
// session family is revoked and the account owner is alerted.
func (e *Engine) handleReuse(ctx context.Context, record *store.RefreshToken, now time.Time) error {
	revoked, err := e.refresh.RevokeAllForAccount(ctx, record.AccountID, now)
	if err != nil {
		return fmt.Errorf("token: revoke family after reuse: %w", err)
	}

	e.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionTokenReuseDetected,
		AccountID: record.AccountID,
		Resource:  record.ID,
		Success:   false,
		Error:     "refresh token reuse detected",
		Metadata:  map[string]string{"sessions_revoked": fmt.Sprintf("%d", revoked)},
	})

	if acct, lookupErr := e.accounts.GetByID(ctx, record.AccountID); lookupErr == nil {
		e.notifier.SuspiciousLogin(ctx, acct.Email, "refresh token reuse detected")
	}

	return ErrRefreshInvalid
}

// Logout revokes the session matching rawRefresh. When callerID is
// non-empty it must match the token's subject; a mismatch is refused so one
// account cannot revoke another's session with a stolen token body.
func (e *Engine) Logout(ctx context.Context, rawRefresh, callerID string) error {
	claims, err := e.jwt.ParseRefresh(rawRefresh)
	if err != nil {
		return err
	}
	if callerID != "" && claims.Subject != callerID {
		return ErrSessionMismatch
	}

	record, err := e.refresh.GetByHash(ctx, crypt.HashToken(rawRefresh))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRefreshInvalid
		}
		return fmt.Errorf("token: load refresh: %w", err)
	}

	if err := e.refresh.Revoke(ctx, record.ID, e.now().UTC()); err != nil {
		return fmt.Errorf("token: revoke refresh: %w", err)
	}

	e.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionLogout,
		AccountID: record.AccountID,
		Resource:  record.ID,
		Success:   true,
	})
	return nil
}

// RevokeAll revokes every live session for an account and reports the count.
func (e *Engine) RevokeAll(ctx context.Context, accountID string) (int, error) {
	revoked, err := e.refresh.RevokeAllForAccount(ctx, accountID, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("token: revoke all: %w", err)
	}
	e.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionLogoutAll,
		AccountID: accountID,
		Success:   true,
		Metadata:  map[string]string{"sessions_revoked": fmt.Sprintf("%d", revoked)},
	})
	return revoked, nil
}

// ActiveSessions lists the live sessions for an account, oldest first.
func (e *Engine) ActiveSessions(ctx context.Context, accountID string) ([]SessionInfo, error) {
	live, err := e.refresh.LiveByAccount(ctx, accountID, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("token: list sessions: %w", err)
	}
	sessions := make([]SessionInfo, 0, len(live))
	for _, record := range live {
		sessions = append(sessions, SessionInfo{
			ID:        record.ID,
			IssuedAt:  record.IssuedAt,
			ExpiresAt: record.ExpiresAt,
		})
	}
	return sessions, nil
}
