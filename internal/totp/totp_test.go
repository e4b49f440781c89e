package totp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	provision, err := GenerateSecret("TaskHive", "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, provision.Secret)
	require.Contains(t, provision.QRPayload, "otpauth://totp/")
	require.Contains(t, provision.QRPayload, "TaskHive")

	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	code, err := Code(provision.Secret, now)
	require.NoError(t, err)
	require.Len(t, code, 6)

	require.True(t, Verify(provision.Secret, code, now, DefaultSkew))
	require.False(t, Verify(provision.Secret, "000000", now, DefaultSkew))
}

func TestVerifySkewWindow(t *testing.T) {
	provision, err := GenerateSecret("TaskHive", "user@example.com")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	code, err := Code(provision.Secret, now)
	require.NoError(t, err)

	// Two steps of drift either side are accepted, three are not.
	require.True(t, Verify(provision.Secret, code, now.Add(2*Period*time.Second), 2))
	require.True(t, Verify(provision.Secret, code, now.Add(-2*Period*time.Second), 2))
	require.False(t, Verify(provision.Secret, code, now.Add(3*Period*time.Second), 2))

	require.False(t, Verify(provision.Secret, code, now.Add(2*Period*time.Second), 0))
}

func TestSecretsAreUnique(t *testing.T) {
	first, err := GenerateSecret("TaskHive", "user@example.com")
	require.NoError(t, err)
	second, err := GenerateSecret("TaskHive", "user@example.com")
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)
}
