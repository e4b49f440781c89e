// Package account implements the credential store: registration, password
// verification, and the account lockout policy shared with two-factor
// verification.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/taskhive/internal/apperr"
	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/crypt"
	"github.com/taskhive/taskhive/internal/notify"
	"github.com/taskhive/taskhive/internal/password"
	"github.com/taskhive/taskhive/internal/store"
)

var (
	// ErrRegistrationFailed deliberately collapses "email taken", "phone
	// taken", and "tenant name taken" into one message to prevent
	// account enumeration through the registration form.
	ErrRegistrationFailed = apperr.New(apperr.Conflict, "registration failed")
	// ErrInvalidCredentials collapses "no such account" and "wrong
	// password" into one message.
	ErrInvalidCredentials = apperr.New(apperr.Unauthorized, "invalid email or password")
	// ErrAccountLocked is returned while the lock deadline is in the
	// future, regardless of whether the presented password was correct.
	ErrAccountLocked = apperr.New(apperr.Unauthorized, "account temporarily locked")
	// ErrInvalidInput marks malformed registration input.
	ErrInvalidInput = apperr.New(apperr.Validation, "invalid input")
)

const minPasswordLength = 8

// Config tunes the credential store.
type Config struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
}

// Service is the credential store.
type Service struct {
	accounts store.AccountRepository
	cipher   *crypt.Cipher
	policy   LockoutPolicy
	recorder *audit.Recorder
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(
	accounts store.AccountRepository,
	cipher *crypt.Cipher,
	recorder *audit.Recorder,
	notifier notify.Notifier,
	cfg Config,
) *Service {
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	if notifier == nil {
		notifier = notify.NoOp{}
	}
	return &Service{
		accounts: accounts,
		cipher:   cipher,
		policy:   LockoutPolicy{Threshold: cfg.LockoutThreshold, LockFor: cfg.LockoutDuration},
		recorder: recorder,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	TenantName  string
	Phone       string // optional
}

// Register creates the account and its owning tenant atomically. The first
// account of a tenant is its owner.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.Account, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.TenantName = strings.TrimSpace(in.TenantName)
	in.Phone = strings.TrimSpace(in.Phone)

	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, ErrInvalidInput
	}
	if len(in.Password) < minPasswordLength || in.DisplayName == "" || in.TenantName == "" {
		return nil, ErrInvalidInput
	}

	hash, err := password.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("account: hash password: %w", err)
	}

	var phoneCiphertext string
	if in.Phone != "" {
		// Deterministic so the uniqueness constraint still applies.
		phoneCiphertext = s.cipher.EncryptDeterministic(in.Phone)
	}

	now := s.now().UTC()
	acct := &store.Account{
		ID:             uuid.NewString(),
		Email:          in.Email,
		PasswordHash:   hash,
		DisplayName:    in.DisplayName,
		Role:           store.RoleOwner,
		TenantID:       uuid.NewString(),
		Active:         true,
		PhoneEncrypted: phoneCiphertext,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tenant := &store.Tenant{
		ID:        acct.TenantID,
		Name:      in.TenantName,
		CreatedAt: now,
	}

	if err := s.accounts.Create(ctx, acct, tenant); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			s.recorder.Record(ctx, audit.Event{
				Action:  audit.ActionRegister,
				Success: false,
				Error:   "duplicate registration",
			})
			return nil, ErrRegistrationFailed
		}
		return nil, fmt.Errorf("account: create: %w", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionRegister,
		AccountID: acct.ID,
		Resource:  tenant.ID,
		Success:   true,
	})
	s.notifier.Welcome(ctx, acct.Email, acct.DisplayName)

	return acct, nil
}

// Login verifies an email/password pair. The password comparison runs on
// every call — against a fixed dummy hash when the account does not exist —
// so response timing cannot enumerate accounts. A locked account is
// reported as locked without revealing whether the password was also wrong.
func (s *Service) Login(ctx context.Context, email, pw string) (*store.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	now := s.now().UTC()

	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			password.VerifyDummy(pw)
			s.recorder.Record(ctx, audit.Event{
				Action:  audit.ActionLogin,
				Success: false,
				Error:   "invalid credentials",
			})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("account: lookup: %w", err)
	}

	if !acct.Active {
		password.VerifyDummy(pw)
		return nil, ErrInvalidCredentials
	}

	counter := Counter{Attempts: acct.FailedLogins, LockUntil: acct.LockUntil}
	if s.policy.Locked(counter, now) {
		// Burn the comparison anyway; the lock decision must not depend
		// on — or leak — whether the password was correct.
		password.VerifyDummy(pw)
		s.recorder.Record(ctx, audit.Event{
			Action:    audit.ActionLogin,
			AccountID: acct.ID,
			Success:   false,
			Error:     "account locked",
		})
		return nil, ErrAccountLocked
	}

	if !password.Verify(acct.PasswordHash, pw) {
		return nil, s.recordLoginFailure(ctx, acct, counter, now)
	}

	acct.FailedLogins = 0
	acct.LockUntil = nil
	acct.LastLoginAt = &now
	if err := s.accounts.UpdateLoginState(ctx, acct); err != nil {
		return nil, fmt.Errorf("account: reset login state: %w", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionLogin,
		AccountID: acct.ID,
		Success:   true,
	})
	return acct, nil
}

func (s *Service) recordLoginFailure(ctx context.Context, acct *store.Account, counter Counter, now time.Time) error {
	next := s.policy.Failure(counter, now)
	acct.FailedLogins = next.Attempts
	acct.LockUntil = next.LockUntil
	if err := s.accounts.UpdateLoginState(ctx, acct); err != nil {
		return fmt.Errorf("account: record login failure: %w", err)
	}

	if next.LockUntil != nil && counter.LockUntil == nil {
		s.recorder.Record(ctx, audit.Event{
			Action:    audit.ActionAccountLocked,
			AccountID: acct.ID,
			Success:   false,
			Error:     "failed login threshold reached",
		})
		s.notifier.SuspiciousLogin(ctx, acct.Email, "account locked after repeated failed logins")
	} else {
		s.recorder.Record(ctx, audit.Event{
			Action:    audit.ActionLogin,
			AccountID: acct.ID,
			Success:   false,
			Error:     "invalid credentials",
		})
	}
	return ErrInvalidCredentials
}

// VerifyPassword re-checks the current password for an already loaded
// account. Used by the two-factor flows that demand password re-entry.
func (s *Service) VerifyPassword(acct *store.Account, pw string) bool {
	return password.Verify(acct.PasswordHash, pw)
}

// Get loads an account by id.
func (s *Service) Get(ctx context.Context, id string) (*store.Account, error) {
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("account: lookup: %w", err)
	}
	return acct, nil
}
