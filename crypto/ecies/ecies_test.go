package ecies

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	plaintext := []byte("hello")
	ciphertext, err := Encrypt(priv.PubKey(), plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := Decrypt(priv, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	other, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	ciphertext, err := Encrypt(priv.PubKey(), []byte("secret"))
	require.NoError(t, err)

	_, err = Decrypt(other, ciphertext)
	require.Error(t, err)
}

func TestDecryptTruncatedCiphertext(t *testing.T) {
	_, err := Decrypt(mustKey(t), []byte("short"))
	require.Error(t, err)
}

func mustKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv
}
