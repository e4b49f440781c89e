package crypt

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New(bytes.Repeat([]byte{0x11}, 32), bytes.Repeat([]byte{0x22}, 32))
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadKeys(t *testing.T) {
	_, err := New(bytes.Repeat([]byte{0x11}, 16), bytes.Repeat([]byte{0x22}, 32))
	require.Error(t, err)

	_, err = New(bytes.Repeat([]byte{0x11}, 32), bytes.Repeat([]byte{0x22}, 31))
	require.Error(t, err)

	same := bytes.Repeat([]byte{0x33}, 32)
	_, err = New(same, same)
	require.Error(t, err)
}

func TestEncryptSecretRoundTrip(t *testing.T) {
	c := testCipher(t)

	ciphertext, err := c.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	require.Len(t, strings.Split(ciphertext, ":"), 3)

	plaintext, err := c.DecryptSecret(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "JBSWY3DPEHPK3PXP", plaintext)
}

func TestEncryptSecretRandomized(t *testing.T) {
	c := testCipher(t)

	first, err := c.EncryptSecret("same input")
	require.NoError(t, err)
	second, err := c.EncryptSecret("same input")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestDecryptSecretRejectsTampering(t *testing.T) {
	c := testCipher(t)

	ciphertext, err := c.EncryptSecret("sensitive")
	require.NoError(t, err)

	segments := strings.Split(ciphertext, ":")
	body, err := base64.StdEncoding.DecodeString(segments[1])
	require.NoError(t, err)
	body[0] ^= 0x01
	segments[1] = base64.StdEncoding.EncodeToString(body)

	_, err = c.DecryptSecret(strings.Join(segments, ":"))
	require.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptSecretRejectsMalformed(t *testing.T) {
	c := testCipher(t)

	for _, input := range []string{"", "only-one", "a:b", "a:b:c:d", "!:!:!"} {
		_, err := c.DecryptSecret(input)
		require.ErrorIs(t, err, ErrDecryption, "input %q", input)
	}
}

func TestDeterministicEncryptionIsStable(t *testing.T) {
	c := testCipher(t)

	first := c.EncryptDeterministic("+15550001111")
	second := c.EncryptDeterministic("+15550001111")
	require.Equal(t, first, second)

	other := c.EncryptDeterministic("+15550002222")
	require.NotEqual(t, first, other)

	plaintext, err := c.DecryptDeterministic(first)
	require.NoError(t, err)
	require.Equal(t, "+15550001111", plaintext)
}

func TestRandomTokenAndHash(t *testing.T) {
	a, err := RandomToken(16)
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := RandomToken(16)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.Equal(t, HashToken("x"), HashToken("x"))
	require.NotEqual(t, HashToken("x"), HashToken("y"))
	require.Len(t, HashToken("x"), 64)
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, ConstantTimeEqual([]byte("abc"), []byte("abc")))
	require.False(t, ConstantTimeEqual([]byte("abc"), []byte("abd")))
	require.False(t, ConstantTimeEqual([]byte("abc"), []byte("ab")))
}
