// Package twofactor implements the TOTP second-factor state machine:
// provisioning, enable/disable, login-time verification with backup-code
// fallback, failure lockout, and backup-code regeneration.
//
// Account-level states: Disabled -> PendingEnable (secret generated, not
// persisted) -> Enabled -> Disabled. Per-login states: PasswordVerified ->
// AwaitingSecondFactor (challenge token) -> FullyAuthenticated.
package twofactor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/taskhive/taskhive/internal/account"
	"github.com/taskhive/taskhive/internal/apperr"
	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/crypt"
	"github.com/taskhive/taskhive/internal/notify"
	"github.com/taskhive/taskhive/internal/password"
	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/internal/token"
	"github.com/taskhive/taskhive/internal/totp"
)

var (
	// ErrChallengeInvalid covers bad/expired challenge tokens and every
	// account-state problem (inactive, 2FA off) so verification responses
	// do not leak account state.
	ErrChallengeInvalid = apperr.New(apperr.Unauthorized, "invalid or expired challenge")
	// ErrFingerprintMismatch is returned when the verifying client is not
	// the one that passed the password check.
	ErrFingerprintMismatch = apperr.New(apperr.Forbidden, "challenge issued to a different client")
	// ErrLocked is returned while the two-factor lock deadline is in the
	// future.
	ErrLocked = apperr.New(apperr.Unauthorized, "two-factor verification temporarily locked")
	// ErrCodeInvalid is returned when neither the TOTP code nor any
	// remaining backup code matches.
	ErrCodeInvalid = apperr.New(apperr.Validation, "invalid two-factor code")
	// ErrPasswordRequired is returned when the re-entered password does
	// not verify on enable/disable.
	ErrPasswordRequired = apperr.New(apperr.Unauthorized, "password verification failed")
	// ErrAlreadyEnabled rejects enabling on top of an enabled account.
	ErrAlreadyEnabled = apperr.New(apperr.Conflict, "two-factor already enabled")
	// ErrNotEnabled rejects disable/regenerate on an account without 2FA.
	ErrNotEnabled = apperr.New(apperr.Conflict, "two-factor not enabled")
)

const backupCodeCount = 10

// Config tunes the state machine.
type Config struct {
	Issuer           string
	Skew             uint
	LockoutThreshold int
	LockoutDuration  time.Duration
}

// Service is the two-factor state machine.
type Service struct {
	accounts store.AccountRepository
	creds    *account.Service
	cipher   *crypt.Cipher
	engine   *token.Engine
	jwt      *token.JWTManager
	policy   account.LockoutPolicy
	recorder *audit.Recorder
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
}

func NewService(
	accounts store.AccountRepository,
	creds *account.Service,
	cipher *crypt.Cipher,
	engine *token.Engine,
	jwtManager *token.JWTManager,
	recorder *audit.Recorder,
	notifier notify.Notifier,
	cfg Config,
) *Service {
	if cfg.Issuer == "" {
		cfg.Issuer = "TaskHive"
	}
	if cfg.Skew == 0 {
		cfg.Skew = totp.DefaultSkew
	}
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 10 * time.Minute
	}
	if notifier == nil {
		notifier = notify.NoOp{}
	}
	return &Service{
		accounts: accounts,
		creds:    creds,
		cipher:   cipher,
		engine:   engine,
		jwt:      jwtManager,
		policy:   account.LockoutPolicy{Threshold: cfg.LockoutThreshold, LockFor: cfg.LockoutDuration},
		recorder: recorder,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Client identifies the requesting client for challenge binding.
type Client struct {
	IP        string
	UserAgent string
}

// Fingerprint derives the binding value embedded in challenge tokens.
func Fingerprint(c Client) string {
	sum := sha256.Sum256([]byte(c.IP + "|" + c.UserAgent))
	return hex.EncodeToString(sum[:])
}

// BeginChallenge issues the short-lived pending-2FA token after a
// successful password check, suspending the login until a code arrives.
func (s *Service) BeginChallenge(ctx context.Context, acct *store.Account, client Client) (string, error) {
	challenge, err := s.jwt.SignChallenge(acct.ID, token.ChallengeTOTP, Fingerprint(client))
	if err != nil {
		return "", err
	}
	return challenge, nil
}

// Provision generates a fresh shared secret and provisioning payload. The
// account is not mutated; the secret only persists once Enable confirms a
// code against it.
func (s *Service) Provision(email string) (totp.Provision, error) {
	return totp.GenerateSecret(s.cfg.Issuer, email)
}

// Enable turns two-factor on. It demands the current password (a hijacked
// session must not silently enable 2FA) and a valid code for the proposed
// secret, then persists the encrypted secret and a fresh backup-code set.
// The plaintext codes are returned exactly once.
func (s *Service) Enable(ctx context.Context, accountID, secret, code, pw string) ([]string, error) {
	acct, err := s.creds.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !s.creds.VerifyPassword(acct, pw) {
		return nil, ErrPasswordRequired
	}
	if acct.TwoFactorEnabled {
		return nil, ErrAlreadyEnabled
	}
	if !totp.Verify(secret, strings.TrimSpace(code), s.now(), s.cfg.Skew) {
		return nil, ErrCodeInvalid
	}

	encrypted, err := s.cipher.EncryptSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("twofactor: encrypt secret: %w", err)
	}

	codes, hashes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}

	acct.TwoFactorEnabled = true
	acct.TwoFactorSecret = encrypted
	acct.BackupCodeHashes = hashes
	acct.TwoFactorFailed = 0
	acct.TwoFactorLockUntil = nil
	if err := s.accounts.UpdateTwoFactor(ctx, acct); err != nil {
		return nil, fmt.Errorf("twofactor: persist enable: %w", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionTwoFactorEnabled,
		AccountID: acct.ID,
		Success:   true,
	})
	s.notifier.TwoFactorEnabled(ctx, acct.Email)

	return codes, nil
}

// VerifyLogin consumes a pending-2FA challenge. TOTP is tried first, then
// the remaining backup codes; the first matching backup code is permanently
// consumed. Failures count toward a temporary lockout shared with the
// password lockout policy shape.
func (s *Service) VerifyLogin(ctx context.Context, challengeToken, code string, client Client) (token.Pair, error) {
	claims, err := s.jwt.ParseChallenge(challengeToken)
	if err != nil {
		return token.Pair{}, ErrChallengeInvalid
	}
	if claims.Fingerprint != "" &&
		!crypt.ConstantTimeEqual([]byte(claims.Fingerprint), []byte(Fingerprint(client))) {
		s.recorder.Record(ctx, audit.Event{
			Action:    audit.ActionTwoFactorFailed,
			AccountID: claims.Subject,
			ClientIP:  client.IP,
			UserAgent: client.UserAgent,
			Success:   false,
			Error:     "client fingerprint mismatch",
		})
		return token.Pair{}, ErrFingerprintMismatch
	}

	acct, err := s.creds.Get(ctx, claims.Subject)
	if err != nil {
		return token.Pair{}, ErrChallengeInvalid
	}
	if !acct.Active || !acct.TwoFactorEnabled || acct.TwoFactorSecret == "" {
		return token.Pair{}, ErrChallengeInvalid
	}

	now := s.now().UTC()
	counter := account.Counter{Attempts: acct.TwoFactorFailed, LockUntil: acct.TwoFactorLockUntil}
	if s.policy.Locked(counter, now) {
		return token.Pair{}, ErrLocked
	}

	secret, err := s.cipher.DecryptSecret(acct.TwoFactorSecret)
	if err != nil {
		// Integrity failure on a stored secret is fatal, never a retry.
		return token.Pair{}, err
	}

	code = strings.TrimSpace(code)
	if !totp.Verify(secret, code, now, s.cfg.Skew) && !s.consumeBackupCode(ctx, acct, code) {
		return token.Pair{}, s.recordFailure(ctx, acct, counter, now, client)
	}

	acct.TwoFactorFailed = 0
	acct.TwoFactorLockUntil = nil
	if err := s.accounts.UpdateTwoFactor(ctx, acct); err != nil {
		return token.Pair{}, fmt.Errorf("twofactor: reset failure counter: %w", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionTwoFactorVerified,
		AccountID: acct.ID,
		ClientIP:  client.IP,
		UserAgent: client.UserAgent,
		Success:   true,
	})

	return s.engine.Issue(ctx, acct)
}

// consumeBackupCode checks code against every remaining digest before
// acting, so timing does not reveal the match position, then permanently
// removes the matched digest.
func (s *Service) consumeBackupCode(ctx context.Context, acct *store.Account, code string) bool {
	code = canonicalizeBackupCode(code)
	if code == "" {
		return false
	}

	matched := -1
	for i, hash := range acct.BackupCodeHashes {
		if password.VerifyBackupCode(hash, code) && matched < 0 {
			matched = i
		}
	}
	if matched < 0 {
		return false
	}

	consumedHash := acct.BackupCodeHashes[matched]
	if err := s.accounts.ConsumeBackupCode(ctx, acct.ID, consumedHash); err != nil {
		return false
	}
	acct.BackupCodeHashes = append(
		acct.BackupCodeHashes[:matched],
		acct.BackupCodeHashes[matched+1:]...,
	)
	return true
}

func (s *Service) recordFailure(ctx context.Context, acct *store.Account, counter account.Counter, now time.Time, client Client) error {
	next := s.policy.Failure(counter, now)
	acct.TwoFactorFailed = next.Attempts
	acct.TwoFactorLockUntil = next.LockUntil
	if err := s.accounts.UpdateTwoFactor(ctx, acct); err != nil {
		return fmt.Errorf("twofactor: record failure: %w", err)
	}

	if next.LockUntil != nil && counter.LockUntil == nil {
		s.recorder.Record(ctx, audit.Event{
			Action:    audit.ActionTwoFactorLocked,
			AccountID: acct.ID,
			ClientIP:  client.IP,
			UserAgent: client.UserAgent,
			Success:   false,
			Error:     "two-factor failure threshold reached",
		})
	} else {
		s.recorder.Record(ctx, audit.Event{
			Action:    audit.ActionTwoFactorFailed,
			AccountID: acct.ID,
			ClientIP:  client.IP,
			UserAgent: client.UserAgent,
			Success:   false,
			Error:     "invalid code",
		})
	}
	return ErrCodeInvalid
}

// Disable turns two-factor off. Symmetric precondition to Enable: current
// password plus a valid TOTP code. Clears the secret and backup codes.
func (s *Service) Disable(ctx context.Context, accountID, code, pw string) error {
	acct, err := s.creds.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if !s.creds.VerifyPassword(acct, pw) {
		return ErrPasswordRequired
	}
	if !acct.TwoFactorEnabled {
		return ErrNotEnabled
	}

	if err := s.verifyCurrentCode(acct, code); err != nil {
		return err
	}

	acct.TwoFactorEnabled = false
	acct.TwoFactorSecret = ""
	acct.BackupCodeHashes = nil
	acct.TwoFactorFailed = 0
	acct.TwoFactorLockUntil = nil
	if err := s.accounts.UpdateTwoFactor(ctx, acct); err != nil {
		return fmt.Errorf("twofactor: persist disable: %w", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionTwoFactorDisabled,
		AccountID: acct.ID,
		Success:   true,
	})
	return nil
}

// RegenerateBackupCodes replaces the entire backup-code set. Requires a
// valid TOTP code; the previous set is invalidated wholesale.
func (s *Service) RegenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	acct, err := s.creds.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.TwoFactorEnabled {
		return nil, ErrNotEnabled
	}

	if err := s.verifyCurrentCode(acct, code); err != nil {
		return nil, err
	}

	codes, hashes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}

	acct.BackupCodeHashes = hashes
	if err := s.accounts.UpdateTwoFactor(ctx, acct); err != nil {
		return nil, fmt.Errorf("twofactor: persist backup codes: %w", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionBackupCodesReplaced,
		AccountID: acct.ID,
		Success:   true,
	})
	return codes, nil
}

// Status reports whether two-factor is on and how many backup codes remain.
type Status struct {
	Enabled              bool `json:"enabled"`
	RemainingBackupCodes int  `json:"remaining_backup_codes"`
}

func (s *Service) Status(ctx context.Context, accountID string) (Status, error) {
	acct, err := s.creds.Get(ctx, accountID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Enabled:              acct.TwoFactorEnabled,
		RemainingBackupCodes: len(acct.BackupCodeHashes),
	}, nil
}

func (s *Service) verifyCurrentCode(acct *store.Account, code string) error {
	secret, err := s.cipher.DecryptSecret(acct.TwoFactorSecret)
	if err != nil {
		return err
	}
	if !totp.Verify(secret, strings.TrimSpace(code), s.now(), s.cfg.Skew) {
		return ErrCodeInvalid
	}
	return nil
}

// generateBackupCodes builds one batch of human-readable one-time codes and
// their digests. Codes are 8 hex characters grouped XXXX-XXXX.
func generateBackupCodes() (codes, hashes []string, err error) {
	codes = make([]string, 0, backupCodeCount)
	hashes = make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		raw, err := crypt.RandomToken(4)
		if err != nil {
			return nil, nil, err
		}
		code := strings.ToUpper(raw[:4] + "-" + raw[4:])
		hash, err := password.HashBackupCode(canonicalizeBackupCode(code))
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, hash)
	}
	return codes, hashes, nil
}

// canonicalizeBackupCode strips the display grouping so user input with or
// without the dash verifies identically.
func canonicalizeBackupCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}
