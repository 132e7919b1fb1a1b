package vault

import (
	"testing"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptySecret(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v, err := New("vaultKey")
	require.NoError(t, err)

	enc, err := v.Encrypt("client-secret")
	require.NoError(t, err)
	assert.NotContains(t, string(enc), "client-secret")

	b := &models.StorageBackend{ID: "b1", EncryptedClientSecret: enc}
	require.NoError(t, v.Decrypt(b))
	assert.Equal(t, "client-secret", b.ClientSecret)
	assert.True(t, b.SecretDecrypted)
}

func TestDecrypt_Memoized(t *testing.T) {
	v, err := New("vaultKey")
	require.NoError(t, err)

	// garbage ciphertext would fail, but the flag short-circuits
	b := &models.StorageBackend{EncryptedClientSecret: []byte("garbage"), ClientSecret: "kept", SecretDecrypted: true}
	require.NoError(t, v.Decrypt(b))
	assert.Equal(t, "kept", b.ClientSecret)
}

func TestDecrypt_WrongKey(t *testing.T) {
	v1, _ := New("one")
	v2, _ := New("two")

	enc, err := v1.Encrypt("s")
	require.NoError(t, err)

	b := &models.StorageBackend{ID: "b1", EncryptedClientSecret: enc}
	err = v2.Decrypt(b)
	assert.ErrorIs(t, err, common.ErrDecryptFailed)
	assert.False(t, b.SecretDecrypted)
	assert.Empty(t, b.ClientSecret)
}

func TestDecrypt_NoSecret(t *testing.T) {
	v, _ := New("k")
	b := &models.StorageBackend{}
	require.NoError(t, v.Decrypt(b))
	assert.True(t, b.SecretDecrypted)

	enc, err := v.Encrypt("")
	require.NoError(t, err)
	assert.Nil(t, enc)
}

func TestForget(t *testing.T) {
	b := &models.StorageBackend{ClientSecret: "x", SecretDecrypted: true}
	Forget(b)
	assert.Empty(t, b.ClientSecret)
	assert.False(t, b.SecretDecrypted)
}
