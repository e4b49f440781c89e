package account_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskhive/taskhive/internal/account"
	"github.com/taskhive/taskhive/internal/crypt"
	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/internal/store/memory"
)

type fixture struct {
	svc   *account.Service
	repo  *memory.AccountRepo
	clock *time.Time
}

func newFixture(t *testing.T, cfg account.Config) *fixture {
	t.Helper()

	cipher, err := crypt.New(bytes.Repeat([]byte{0x01}, 32), bytes.Repeat([]byte{0x02}, 32))
	require.NoError(t, err)

	repo := memory.NewAccountRepo()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := &fixture{repo: repo, clock: &now}
	f.svc = account.NewService(repo, cipher, nil, nil, cfg).
		WithClock(func() time.Time { return *f.clock })
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) register(t *testing.T, email, password string) *store.Account {
	t.Helper()
	acct, err := f.svc.Register(context.Background(), account.RegisterInput{
		Email:       email,
		Password:    password,
		DisplayName: "Test User",
		TenantName:  "tenant-" + email,
	})
	require.NoError(t, err)
	return acct
}

func TestRegister(t *testing.T) {
	f := newFixture(t, account.Config{})

	acct, err := f.svc.Register(context.Background(), account.RegisterInput{
		Email:       "Owner@Example.COM",
		Password:    "long enough pw",
		DisplayName: "Owner",
		TenantName:  "Acme",
		Phone:       "+15550001111",
	})
	require.NoError(t, err)
	require.Equal(t, "owner@example.com", acct.Email)
	require.Equal(t, store.RoleOwner, acct.Role)
	require.NotEmpty(t, acct.ID)
	require.NotEmpty(t, acct.TenantID)
	require.True(t, acct.Active)
	require.NotEmpty(t, acct.PhoneEncrypted)
	require.NotEqual(t, "+15550001111", acct.PhoneEncrypted)
	require.NotEqual(t, "long enough pw", acct.PasswordHash)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	f := newFixture(t, account.Config{})
	ctx := context.Background()

	cases := []struct {
		name string
		in   account.RegisterInput
	}{
		{"bad email", account.RegisterInput{Email: "nope", Password: "long enough pw", DisplayName: "x", TenantName: "t"}},
		{"short password", account.RegisterInput{Email: "a@b.co", Password: "short", DisplayName: "x", TenantName: "t"}},
		{"missing display name", account.RegisterInput{Email: "a@b.co", Password: "long enough pw", TenantName: "t"}},
		{"missing tenant", account.RegisterInput{Email: "a@b.co", Password: "long enough pw", DisplayName: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tc.in)
			require.ErrorIs(t, err, account.ErrInvalidInput)
		})
	}
}

func TestRegisterDuplicateIsGeneric(t *testing.T) {
	f := newFixture(t, account.Config{})
	f.register(t, "dup@example.com", "long enough pw")

	_, err := f.svc.Register(context.Background(), account.RegisterInput{
		Email:       "dup@example.com",
		Password:    "another password",
		DisplayName: "Other",
		TenantName:  "Other Co",
	})
	require.ErrorIs(t, err, account.ErrRegistrationFailed)
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t, account.Config{})
	f.register(t, "user@example.com", "long enough pw")

	acct, err := f.svc.Login(context.Background(), "USER@example.com", "long enough pw")
	require.NoError(t, err)
	require.Equal(t, "user@example.com", acct.Email)
	require.NotNil(t, acct.LastLoginAt)
	require.Zero(t, acct.FailedLogins)
}

func TestLoginUnknownAccount(t *testing.T) {
	f := newFixture(t, account.Config{})

	_, err := f.svc.Login(context.Background(), "ghost@example.com", "whatever pw")
	require.ErrorIs(t, err, account.ErrInvalidCredentials)
}

func TestLoginWrongPasswordCounts(t *testing.T) {
	f := newFixture(t, account.Config{})
	reg := f.register(t, "user@example.com", "long enough pw")

	_, err := f.svc.Login(context.Background(), "user@example.com", "wrong password")
	require.ErrorIs(t, err, account.ErrInvalidCredentials)

	acct, err := f.repo.GetByID(context.Background(), reg.ID)
	require.NoError(t, err)
	require.Equal(t, 1, acct.FailedLogins)
	require.Nil(t, acct.LockUntil)
}

func TestLockoutLifecycle(t *testing.T) {
	f := newFixture(t, account.Config{LockoutThreshold: 3, LockoutDuration: 10 * time.Minute})
	f.register(t, "user@example.com", "long enough pw")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, "user@example.com", "wrong password")
		require.ErrorIs(t, err, account.ErrInvalidCredentials)
	}

	// Correct password makes no difference while locked.
	_, err := f.svc.Login(ctx, "user@example.com", "long enough pw")
	require.ErrorIs(t, err, account.ErrAccountLocked)

	// Boundary-equal deadline is unlocked; the correct password succeeds
	// and resets the counter.
	f.advance(10 * time.Minute)
	acct, err := f.svc.Login(ctx, "user@example.com", "long enough pw")
	require.NoError(t, err)
	require.Zero(t, acct.FailedLogins)
	require.Nil(t, acct.LockUntil)
}

func TestLockoutCounterRetainedAcrossWindow(t *testing.T) {
	f := newFixture(t, account.Config{LockoutThreshold: 3, LockoutDuration: 10 * time.Minute})
	reg := f.register(t, "user@example.com", "long enough pw")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, "user@example.com", "wrong password")
		require.ErrorIs(t, err, account.ErrInvalidCredentials)
	}

	// One more failure after the window relocks immediately.
	f.advance(10 * time.Minute)
	_, err := f.svc.Login(ctx, "user@example.com", "wrong password")
	require.ErrorIs(t, err, account.ErrInvalidCredentials)

	acct, err := f.repo.GetByID(ctx, reg.ID)
	require.NoError(t, err)
	require.Equal(t, 4, acct.FailedLogins)
	require.NotNil(t, acct.LockUntil)

	_, err = f.svc.Login(ctx, "user@example.com", "long enough pw")
	require.ErrorIs(t, err, account.ErrAccountLocked)
}

func TestLoginInactiveAccount(t *testing.T) {
	f := newFixture(t, account.Config{})
	reg := f.register(t, "user@example.com", "long enough pw")
	f.repo.SetActive(reg.ID, false)

	// Indistinguishable from a wrong password.
	_, err := f.svc.Login(context.Background(), "user@example.com", "long enough pw")
	require.ErrorIs(t, err, account.ErrInvalidCredentials)
}
