package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockoutPolicyTransitions(t *testing.T) {
	policy := LockoutPolicy{Threshold: 3, LockFor: 10 * time.Minute}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c := Counter{}
	c = policy.Failure(c, now)
	require.Equal(t, 1, c.Attempts)
	require.Nil(t, c.LockUntil)

	c = policy.Failure(c, now)
	require.Equal(t, 2, c.Attempts)
	require.Nil(t, c.LockUntil)

	c = policy.Failure(c, now)
	require.Equal(t, 3, c.Attempts)
	require.NotNil(t, c.LockUntil)
	require.Equal(t, now.Add(10*time.Minute), *c.LockUntil)

	require.True(t, policy.Locked(c, now))
	require.True(t, policy.Locked(c, now.Add(10*time.Minute-time.Second)))
	// Boundary-equal deadline counts as expired.
	require.False(t, policy.Locked(c, now.Add(10*time.Minute)))
	require.False(t, policy.Locked(c, now.Add(11*time.Minute)))

	// Counter survives the lock window; failures past the threshold
	// extend the deadline.
	c = policy.Failure(c, now.Add(11*time.Minute))
	require.Equal(t, 4, c.Attempts)
	require.Equal(t, now.Add(21*time.Minute), *c.LockUntil)

	c = policy.Success()
	require.Zero(t, c.Attempts)
	require.Nil(t, c.LockUntil)
}
