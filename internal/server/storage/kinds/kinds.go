// Package kinds maps every supported backend kind to its adapter constructor.
package kinds

import (
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/dropbox"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/gcs"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/gdrive"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/imgur"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/onedrive"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/s3"
)

func Factories() map[models.BackendKind]storage.Factory {
	return map[models.BackendKind]storage.Factory{
		models.KindGoogleDrive: gdrive.New,
		models.KindOneDrive:    onedrive.New,
		models.KindDropbox:     dropbox.New,
		models.KindImgur:       imgur.New,
		models.KindS3:          s3.New,
		models.KindGCS:         gcs.New,
	}
}

// NewOpener returns an opener that knows every kind.
func NewOpener(vault storage.Decrypter, deps storage.Deps) *storage.Opener {
	return storage.NewOpener(Factories(), vault, deps)
}
