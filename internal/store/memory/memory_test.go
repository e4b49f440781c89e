package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskhive/taskhive/internal/store"
)

func seedAccount(t *testing.T, r *AccountRepo) *store.Account {
	t.Helper()
	now := time.Now().UTC()
	acct := &store.Account{
		ID:       "acct-1",
		Email:    "user@example.com",
		TenantID: "tenant-1",
		Active:   true,
	}
	require.NoError(t, r.Create(context.Background(), acct,
		&store.Tenant{ID: "tenant-1", Name: "Tenant", CreatedAt: now}))
	return acct
}

func TestAccountRepoDuplicates(t *testing.T) {
	r := NewAccountRepo()
	seedAccount(t, r)
	ctx := context.Background()

	err := r.Create(ctx,
		&store.Account{ID: "acct-2", Email: "user@example.com", TenantID: "tenant-2"},
		&store.Tenant{ID: "tenant-2", Name: "Other"})
	require.ErrorIs(t, err, store.ErrDuplicate)

	err = r.Create(ctx,
		&store.Account{ID: "acct-3", Email: "other@example.com", TenantID: "tenant-3"},
		&store.Tenant{ID: "tenant-3", Name: "Tenant"})
	require.ErrorIs(t, err, store.ErrDuplicate)
}

func TestAccountRepoReturnsClones(t *testing.T) {
	r := NewAccountRepo()
	seedAccount(t, r)
	ctx := context.Background()

	first, err := r.GetByID(ctx, "acct-1")
	require.NoError(t, err)
	first.Email = "mutated@example.com"

	second, err := r.GetByID(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, "user@example.com", second.Email)
}

func TestConsumeBackupCode(t *testing.T) {
	r := NewAccountRepo()
	acct := seedAccount(t, r)
	ctx := context.Background()

	acct.BackupCodeHashes = []string{"h1", "h2", "h3"}
	require.NoError(t, r.UpdateTwoFactor(ctx, acct))

	require.NoError(t, r.ConsumeBackupCode(ctx, acct.ID, "h2"))
	require.ErrorIs(t, r.ConsumeBackupCode(ctx, acct.ID, "h2"), store.ErrNotFound)

	stored, err := r.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"h1", "h3"}, stored.BackupCodeHashes)
}

func TestLiveByAccountOrdersOldestFirst(t *testing.T) {
	r := NewRefreshTokenRepo()
	ctx := context.Background()
	base := time.Now().UTC()

	offsets := map[string]time.Duration{"t-a": 0, "t-b": time.Minute, "t-c": 2 * time.Minute}
	// Insertion order deliberately differs from issuance order.
	for _, id := range []string{"t-c", "t-a", "t-b"} {
		require.NoError(t, r.Create(ctx, &store.RefreshToken{
			ID:        id,
			AccountID: "acct-1",
			TokenHash: id + "-hash",
			IssuedAt:  base.Add(offsets[id]),
			ExpiresAt: base.Add(time.Hour),
		}))
	}

	live, err := r.LiveByAccount(ctx, "acct-1", base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, live, 3)
	require.Equal(t, "t-a", live[0].ID)
	require.Equal(t, "t-b", live[1].ID)
	require.Equal(t, "t-c", live[2].ID)
}

func TestPurgeStale(t *testing.T) {
	r := NewRefreshTokenRepo()
	ctx := context.Background()
	base := time.Now().UTC()
	revokedAt := base.Add(-48 * time.Hour)

	require.NoError(t, r.Create(ctx, &store.RefreshToken{
		ID: "expired", AccountID: "a", TokenHash: "h1",
		IssuedAt: base.Add(-72 * time.Hour), ExpiresAt: base.Add(-36 * time.Hour),
	}))
	require.NoError(t, r.Create(ctx, &store.RefreshToken{
		ID: "revoked", AccountID: "a", TokenHash: "h2",
		IssuedAt: base.Add(-72 * time.Hour), ExpiresAt: base.Add(time.Hour),
		RevokedAt: &revokedAt,
	}))
	require.NoError(t, r.Create(ctx, &store.RefreshToken{
		ID: "live", AccountID: "a", TokenHash: "h3",
		IssuedAt: base, ExpiresAt: base.Add(time.Hour),
	}))

	purged, err := r.PurgeStale(ctx, base.Add(-24*time.Hour), 100)
	require.NoError(t, err)
	require.EqualValues(t, 2, purged)

	_, err = r.GetByHash(ctx, "h3")
	require.NoError(t, err)
	_, err = r.GetByHash(ctx, "h1")
	require.ErrorIs(t, err, store.ErrNotFound)
}
