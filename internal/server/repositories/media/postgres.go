package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, kind, show_id, source_file_id, source_status, public_status, external_stream_url, uploader_id`

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.MediaItem, error) {
	var m models.MediaItem
	var kind, sourceStatus, publicStatus string
	var showID, sourceFileID sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &kind, &showID, &sourceFileID,
		&sourceStatus, &publicStatus, &m.ExternalStreamURL, &m.UploaderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	m.Kind = models.MediaKind(kind)
	m.ShowID = showID.String
	m.SourceFileID = sourceFileID.String
	m.SourceStatus = models.SourceStatus(sourceStatus)
	m.PublicStatus = models.PublicStatus(publicStatus)
	return &m, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.MediaItem, error) {
	return r.get(ctx, `SELECT `+columns+` FROM media_items WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.MediaItem, error) {
	return r.get(ctx, `SELECT `+columns+` FROM media_items WHERE id = $1 FOR UPDATE`, id)
}

// SetSource moves the item to PROCESSING. Public status moves to PROCESSING
// unless it is already DONE through an external stream.
func (r *PostgresRepository) SetSource(ctx context.Context, id, sourceFileID, uploaderID string) error {
	query := `
		UPDATE media_items
		SET source_file_id = $2, source_status = 'PROCESSING', uploader_id = $3,
			public_status = CASE WHEN public_status = 'DONE' AND external_stream_url <> '' THEN 'DONE' ELSE 'PROCESSING' END
		WHERE id = $1 AND source_file_id IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, sourceFileID, uploaderID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrSourceAlreadyExists
	}
	return nil
}

func (r *PostgresRepository) MarkReady(ctx context.Context, id, sourceFileID string) (bool, error) {
	return r.exec(ctx, `
		UPDATE media_items SET source_status = 'READY'
		WHERE id = $1 AND source_file_id = $2 AND source_status = 'PROCESSING'
	`, id, sourceFileID)
}

func (r *PostgresRepository) MarkPublic(ctx context.Context, id, sourceFileID string) (bool, error) {
	return r.exec(ctx, `
		UPDATE media_items SET public_status = 'DONE'
		WHERE id = $1 AND source_file_id = $2 AND public_status <> 'DONE'
	`, id, sourceFileID)
}

func (r *PostgresRepository) MarkDone(ctx context.Context, id, sourceFileID string) (bool, error) {
	return r.exec(ctx, `
		UPDATE media_items SET source_status = 'DONE'
		WHERE id = $1 AND source_file_id = $2
	`, id, sourceFileID)
}

// ResetSource detaches the source. Items with an external stream stay public.
func (r *PostgresRepository) ResetSource(ctx context.Context, id, sourceFileID string) (bool, error) {
	return r.exec(ctx, `
		UPDATE media_items
		SET source_file_id = NULL, source_status = 'PENDING', uploader_id = '',
			public_status = CASE WHEN external_stream_url <> '' THEN 'DONE' ELSE 'PENDING' END
		WHERE id = $1 AND source_file_id = $2
	`, id, sourceFileID)
}

func (r *PostgresRepository) RecountPublicEpisodes(ctx context.Context, showID string) error {
	query := `
		UPDATE shows SET public_episode_count = (
			SELECT count(*) FROM media_items
			WHERE show_id = $1 AND kind = 'episode' AND public_status = 'DONE'
		)
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, showID); err != nil {
		return fmt.Errorf("failed to recount episodes: %w", err)
	}
	return nil
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}
