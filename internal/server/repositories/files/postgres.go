package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

// PostgresRepository implements stored file records over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, kind, backend_id, path, folder_id, quality, codec, size, mime_type, media_id, job_id, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.StoredFile, error) {
	var f models.StoredFile
	var kind string
	if err := s.Scan(&f.ID, &kind, &f.BackendID, &f.Path, &f.FolderID, &f.Quality, &f.Codec,
		&f.Size, &f.MimeType, &f.MediaID, &f.JobID, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Kind = models.FileKind(kind)
	return &f, nil
}

// Create inserts a file record and fills in CreatedAt.
func (r *PostgresRepository) Create(ctx context.Context, f *models.StoredFile) error {
	query := `
		INSERT INTO stored_files (id, kind, backend_id, path, folder_id, quality, codec, size, mime_type, media_id, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query, f.ID, string(f.Kind), f.BackendID, f.Path, f.FolderID,
		f.Quality, f.Codec, f.Size, f.MimeType, f.MediaID, f.JobID).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.StoredFile, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM stored_files WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) ListByMedia(ctx context.Context, mediaID string) ([]*models.StoredFile, error) {
	return r.query(ctx, `SELECT `+columns+` FROM stored_files WHERE media_id = $1 ORDER BY created_at`, mediaID)
}

func (r *PostgresRepository) DeleteByMedia(ctx context.Context, mediaID string) ([]*models.StoredFile, error) {
	return r.query(ctx, `DELETE FROM stored_files WHERE media_id = $1 RETURNING `+columns, mediaID)
}

func (r *PostgresRepository) DeleteStreams(ctx context.Context, mediaID string) ([]*models.StoredFile, error) {
	return r.query(ctx, `DELETE FROM stored_files WHERE media_id = $1 AND kind = $2 RETURNING `+columns,
		mediaID, string(models.FileStream))
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.StoredFile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
