// Package backends persists registered storage backends and their counters.
package backends

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, b *models.StorageBackend) error
	Get(ctx context.Context, id string) (*models.StorageBackend, error)
	List(ctx context.Context) ([]*models.StorageBackend, error)
	ListByRole(ctx context.Context, role models.Role) ([]*models.StorageBackend, error)
	// ListExpiring returns OAuth backends whose token is missing or expires before t.
	ListExpiring(ctx context.Context, before time.Time) ([]*models.StorageBackend, error)
	Count(ctx context.Context) (int, error)
	Update(ctx context.Context, b *models.StorageBackend) error
	// Delete removes the backend only if it holds no files.
	Delete(ctx context.Context, id string) error
	SetRole(ctx context.Context, id string, role models.Role) error
	// ClearRole unassigns the role only if the backend holds no files.
	ClearRole(ctx context.Context, id string) error
	SaveToken(ctx context.Context, id string, t *models.OAuthToken) error
	// AddUsage applies signed deltas to the byte and file counters in one statement.
	AddUsage(ctx context.Context, id string, bytes, files int64) error
	IncrementSelection(ctx context.Context, id string) (int64, error)
}
