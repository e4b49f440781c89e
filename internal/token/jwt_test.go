package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/taskhive/internal/store"
)

func newManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(JWTConfig{
		SigningKey: []byte("test-signing-key"),
		Issuer:     "test",
	})
	require.NoError(t, err)
	return m
}

func testAccount() *store.Account {
	return &store.Account{
		ID:       "acct-1",
		Role:     store.RoleOwner,
		TenantID: "tenant-1",
	}
}

func TestNewJWTManagerRequiresKey(t *testing.T) {
	_, err := NewJWTManager(JWTConfig{})
	require.Error(t, err)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newManager(t)

	raw, err := m.SignAccess(testAccount())
	require.NoError(t, err)

	claims, err := m.ParseAccess(raw)
	require.NoError(t, err)
	require.Equal(t, "acct-1", claims.Subject)
	require.Equal(t, "owner", claims.Role)
	require.Equal(t, "tenant-1", claims.TenantID)
	require.Equal(t, "test", claims.Issuer)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := newManager(t)

	raw, jti, expiresAt, err := m.SignRefresh("acct-1")
	require.NoError(t, err)
	require.NotEmpty(t, jti)
	require.WithinDuration(t, time.Now().Add(7*24*time.Hour), expiresAt, time.Minute)

	claims, err := m.ParseRefresh(raw)
	require.NoError(t, err)
	require.Equal(t, "acct-1", claims.Subject)
	require.Equal(t, jti, claims.ID)
}

func TestParseRefreshRejectsAccessToken(t *testing.T) {
	m := newManager(t)

	raw, err := m.SignAccess(testAccount())
	require.NoError(t, err)

	_, err = m.ParseRefresh(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestParseRejectsWrongKey(t *testing.T) {
	m := newManager(t)
	other, err := NewJWTManager(JWTConfig{SigningKey: []byte("different-key"), Issuer: "test"})
	require.NoError(t, err)

	raw, err := other.SignAccess(testAccount())
	require.NoError(t, err)

	_, err = m.ParseAccess(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestParseRejectsNoneAlgorithm(t *testing.T) {
	m := newManager(t)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "acct-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.ParseAccess(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestParseRejectsExpired(t *testing.T) {
	m := newManager(t)
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }

	raw, err := m.SignAccess(testAccount())
	require.NoError(t, err)

	m.now = time.Now
	// Default access TTL is fifteen minutes; an hour-old token is dead.
	_, err = m.ParseAccess(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestChallengeTokenRoundTrip(t *testing.T) {
	m := newManager(t)

	raw, err := m.SignChallenge("acct-1", ChallengeTOTP, "fingerprint-hex")
	require.NoError(t, err)

	claims, err := m.ParseChallenge(raw)
	require.NoError(t, err)
	require.Equal(t, "acct-1", claims.Subject)
	require.Equal(t, ChallengeTOTP, claims.ChallengeType)
	require.Equal(t, "fingerprint-hex", claims.Fingerprint)
	require.True(t, claims.Pending)
}

func TestParseChallengeRejectsAccessToken(t *testing.T) {
	m := newManager(t)

	raw, err := m.SignAccess(testAccount())
	require.NoError(t, err)

	_, err = m.ParseChallenge(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

// A challenge token must never pass as an access token even though both are
// signed with the same key.
func TestParseAccessRejectsChallenge(t *testing.T) {
	m := newManager(t)

	raw, err := m.SignChallenge("acct-1", ChallengeTOTP, "")
	require.NoError(t, err)

	_, err = m.ParseAccess(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestParseAccessRejectsRefresh(t *testing.T) {
	m := newManager(t)

	raw, _, _, err := m.SignRefresh("acct-1")
	require.NoError(t, err)

	_, err = m.ParseAccess(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
