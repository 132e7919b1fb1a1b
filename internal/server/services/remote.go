package services

import (
	"context"

	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/repomanager"
)

// removeRemote best-effort deletes the remote objects of files, one adapter
// per backend. A source is removed together with its session folder.
func removeRemote(ctx context.Context, db dbx.DBTX, m repomanager.RepositoryManager, opener AdapterOpener,
	log logging.Logger, files []*models.StoredFile) {
	byBackend := make(map[string][]*models.StoredFile)
	var order []string
	for _, f := range files {
		if _, ok := byBackend[f.BackendID]; !ok {
			order = append(order, f.BackendID)
		}
		byBackend[f.BackendID] = append(byBackend[f.BackendID], f)
	}

	for _, id := range order {
		b, err := m.Backends(db).Get(ctx, id)
		if err != nil {
			log.Warn(ctx, "remote cleanup skipped", "backend_id", id, "error", err)
			continue
		}
		a, err := opener.Open(ctx, b)
		if err != nil {
			log.Warn(ctx, "remote cleanup skipped", "backend_id", id, "error", err)
			continue
		}
		for _, f := range byBackend[id] {
			if f.Kind == models.FileSource && f.FolderID != "" {
				err = a.DeleteFolder(ctx, f.FolderID)
			} else {
				err = a.Delete(ctx, f.Path)
			}
			if err != nil {
				log.Warn(ctx, "remote delete failed", "backend_id", id, "file_id", f.ID, "path", f.Path, "error", err)
			}
		}
	}
}
