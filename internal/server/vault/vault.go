// Package vault protects backend client secrets at rest.
//
// A Vault holds one process-wide key derived from the configured secret.
// Decrypt fills StorageBackend.ClientSecret once per in-memory value and
// marks it with SecretDecrypted so repeated calls within one logical
// operation are free.
package vault

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/cryptox"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

// keySalt is fixed so the same configured secret always yields the same key.
var keySalt = []byte("mediavault.storage-backend-secrets.v1")

type Vault struct {
	key []byte
}

// New derives the vault key from the process secret.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault: empty secret")
	}
	return &Vault{key: cryptox.DeriveKey([]byte(secret), keySalt)}, nil
}

// Encrypt seals plaintext for storage in encrypted_client_secret.
func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	sealed, err := cryptox.Seal(v.key, []byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("vault: seal: %w", err)
	}
	return sealed, nil
}

// Decrypt populates b.ClientSecret from b.EncryptedClientSecret. It is a
// no-op for a value that was already decrypted.
func (v *Vault) Decrypt(b *models.StorageBackend) error {
	if b.SecretDecrypted {
		return nil
	}
	if len(b.EncryptedClientSecret) == 0 {
		b.ClientSecret = ""
		b.SecretDecrypted = true
		return nil
	}
	plain, err := cryptox.Open(v.key, b.EncryptedClientSecret)
	if err != nil {
		return fmt.Errorf("%w: backend %s: %v", common.ErrDecryptFailed, b.ID, err)
	}
	b.ClientSecret = string(plain)
	b.SecretDecrypted = true
	common.WipeByteArray(plain)
	return nil
}

// Forget drops the decrypted secret from b.
func Forget(b *models.StorageBackend) {
	b.ClientSecret = ""
	b.SecretDecrypted = false
}
