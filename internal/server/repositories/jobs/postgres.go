package jobs

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

const columns = `id, media_id, source_file_id, codec, is_primary, uploader_id, created_at`

const insertWidth = 6

// Add records all jobs with a single multi-row insert.
func (r *PostgresRepository) Add(ctx context.Context, jobs []*models.TranscodeJob) error {
	if len(jobs) == 0 {
		return nil
	}
	args := make([]any, 0, len(jobs)*insertWidth)
	for _, j := range jobs {
		args = append(args, j.ID, j.MediaID, j.SourceFileID, j.Codec, j.IsPrimary, j.UploaderID)
	}
	query := `INSERT INTO media_jobs (id, media_id, source_file_id, codec, is_primary, uploader_id) VALUES ` +
		dbx.Placeholders(1, len(jobs), insertWidth)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.TranscodeJob, error) {
	var j models.TranscodeJob
	err := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM media_jobs WHERE id = $1`, id).
		Scan(&j.ID, &j.MediaID, &j.SourceFileID, &j.Codec, &j.IsPrimary, &j.UploaderID, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &j, nil
}

func (r *PostgresRepository) Remove(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM media_jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) ListByMedia(ctx context.Context, mediaID string) ([]*models.TranscodeJob, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM media_jobs WHERE media_id = $1 ORDER BY created_at, id`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("failed to select jobs: %w", err)
	}
	defer rows.Close()

	var result []*models.TranscodeJob
	for rows.Next() {
		var j models.TranscodeJob
		if err := rows.Scan(&j.ID, &j.MediaID, &j.SourceFileID, &j.Codec, &j.IsPrimary, &j.UploaderID, &j.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) RemoveByMedia(ctx context.Context, mediaID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `DELETE FROM media_jobs WHERE media_id = $1 RETURNING id`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
