package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	opts, err := NewOptions([]byte("test-secret-0123456789"), "HS256", time.Hour)
	require.NoError(t, err)
	return opts
}

func TestGenerateAndVerify(t *testing.T) {
	opts := testOptions(t)

	token, exp, err := Generate(opts, "alice", "u-1")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := Verify(opts, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.LoginName)
	assert.Equal(t, "u-1", claims.OuterUserID)
	assert.Equal(t, "alice", claims.Subject)
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	token, _, err := Generate(testOptions(t), "alice", "u-1")
	require.NoError(t, err)

	other, err := NewOptions([]byte("a-different-secret"), "HS256", time.Hour)
	require.NoError(t, err)
	_, err = Verify(other, token)
	assert.Error(t, err)
}

func TestNewOptionsValidation(t *testing.T) {
	_, err := NewOptions(nil, "HS256", time.Hour)
	assert.Error(t, err)
	_, err = NewOptions([]byte("x"), "RS256", time.Hour)
	assert.Error(t, err)
}

func TestHashToken(t *testing.T) {
	assert.True(t, strings.HasPrefix(HashToken("abc"), "sha256:"))
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
}

func TestPrivateKeyBootstrapRoundTrip(t *testing.T) {
	pubPEM, privPEM, err := GenerateKeyPair(1024)
	require.NoError(t, err)

	priv, err := ParsePrivateKey(privPEM)
	require.NoError(t, err)
	pub, err := ParsePublicKey(pubPEM)
	require.NoError(t, err)

	secret, err := RandomPassword()
	require.NoError(t, err)

	ct, err := EncryptWithPrivateKey([]byte(secret), priv)
	require.NoError(t, err)
	assert.Len(t, ct, pub.Size())

	got, err := DecryptWithPublicKey(ct, pub)
	require.NoError(t, err)
	assert.Equal(t, secret, string(got))
}

func TestDecryptWithWrongPublicKey(t *testing.T) {
	_, privPEM, err := GenerateKeyPair(1024)
	require.NoError(t, err)
	otherPub, _, err := GenerateKeyPair(1024)
	require.NoError(t, err)

	priv, _ := ParsePrivateKey(privPEM)
	pub, _ := ParsePublicKey(otherPub)

	ct, err := EncryptWithPrivateKey([]byte("secret"), priv)
	require.NoError(t, err)
	_, err = DecryptWithPublicKey(ct, pub)
	assert.Error(t, err)
}

func TestEncryptTooLong(t *testing.T) {
	_, privPEM, err := GenerateKeyPair(1024)
	require.NoError(t, err)
	priv, _ := ParsePrivateKey(privPEM)

	_, err = EncryptWithPrivateKey(make([]byte, priv.Size()), priv)
	assert.Error(t, err)
}

func TestRandomPassword(t *testing.T) {
	a, err := RandomPassword()
	require.NoError(t, err)
	b, err := RandomPassword()
	require.NoError(t, err)

	assert.Len(t, a, PasswordLength)
	assert.NotEqual(t, a, b)
}

func TestSignVerify(t *testing.T) {
	payload := []byte(`{"id":"1","type":"Speed"}`)
	sig := Sign("s1", payload)

	assert.True(t, VerifySign("s1", payload, sig))
	assert.False(t, VerifySign("s2", payload, sig))
	assert.False(t, VerifySign("s1", []byte("tampered"), sig))
	assert.False(t, VerifySign("s1", payload, "not-hex"))
}
