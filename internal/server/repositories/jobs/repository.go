// Package jobs keeps the in-flight transcode job ledger of each media item.
package jobs

import (
	"context"

	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

type Repository interface {
	Add(ctx context.Context, jobs []*models.TranscodeJob) error
	Get(ctx context.Context, id string) (*models.TranscodeJob, error)
	// Remove deletes the job and reports whether it was still in flight.
	Remove(ctx context.Context, id string) (bool, error)
	ListByMedia(ctx context.Context, mediaID string) ([]*models.TranscodeJob, error)
	// RemoveByMedia clears the ledger of an item and returns the removed job ids.
	RemoveByMedia(ctx context.Context, mediaID string) ([]string, error)
}
