package files

import (
	"context"

	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, f *models.StoredFile) error
	Get(ctx context.Context, id string) (*models.StoredFile, error)
	ListByMedia(ctx context.Context, mediaID string) ([]*models.StoredFile, error)
	// DeleteByMedia removes every file of the item and returns what was removed.
	DeleteByMedia(ctx context.Context, mediaID string) ([]*models.StoredFile, error)
	// DeleteStreams removes only the renditions of the item.
	DeleteStreams(ctx context.Context, mediaID string) ([]*models.StoredFile, error)
}
