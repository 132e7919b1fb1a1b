package services

import (
	"context"

	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
)

// AdapterOpener turns a backend record into a live adapter. *storage.Opener implements it.
type AdapterOpener interface {
	Open(ctx context.Context, b *models.StorageBackend) (storage.Adapter, error)
	Supports(kind models.BackendKind) bool
}

// SecretSealer encrypts client secrets before they are stored. *vault.Vault implements it.
type SecretSealer interface {
	Encrypt(plaintext string) ([]byte, error)
}
