package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.UploadSession) error
	Get(ctx context.Context, id string) (*models.UploadSession, error)
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]*models.UploadSession, error)
}
