package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/backends"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/files"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/media"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/sessions"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Backends(db dbx.DBTX) backends.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	Files(db dbx.DBTX) files.Repository
	Media(db dbx.DBTX) media.Repository
	Jobs(db dbx.DBTX) jobs.Repository
}
