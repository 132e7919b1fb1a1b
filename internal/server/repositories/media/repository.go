// Package media persists the processing-relevant state of movies and episodes.
//
// State-changing methods that take a sourceFileID are conditional on the item
// still referencing that source and report whether a row changed, so callbacks
// about a replaced or deleted source become no-ops.
package media

import (
	"context"

	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, id string) (*models.MediaItem, error)
	// GetForUpdate locks the row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id string) (*models.MediaItem, error)
	// SetSource attaches a source to an item that has none.
	SetSource(ctx context.Context, id, sourceFileID, uploaderID string) error
	MarkReady(ctx context.Context, id, sourceFileID string) (bool, error)
	// MarkPublic flips public status to DONE and reports whether this call did the flip.
	MarkPublic(ctx context.Context, id, sourceFileID string) (bool, error)
	MarkDone(ctx context.Context, id, sourceFileID string) (bool, error)
	ResetSource(ctx context.Context, id, sourceFileID string) (bool, error)
	RecountPublicEpisodes(ctx context.Context, showID string) error
}
