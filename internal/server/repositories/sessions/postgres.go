package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

// PostgresRepository implements upload session storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, filename, size, mime_type, user_id, backend_id, role, media_id, folder_id, created_at, expires_at`

func (r *PostgresRepository) Create(ctx context.Context, s *models.UploadSession) error {
	query := `
		INSERT INTO upload_sessions (id, filename, size, mime_type, user_id, backend_id, role, media_id, folder_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.Filename, s.Size, s.MimeType, s.UserID, s.BackendID,
		string(s.Role), s.MediaID, s.FolderID, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns the session or ErrUploadSessionNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	query := `SELECT ` + columns + ` FROM upload_sessions WHERE id = $1`
	s := &models.UploadSession{}
	var role string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.Filename, &s.Size, &s.MimeType, &s.UserID,
		&s.BackendID, &role, &s.MediaID, &s.FolderID, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrUploadSessionNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.Role = models.Role(role)
	return s, nil
}

// Delete removes the session row; deleting a missing row yields ErrUploadSessionNotFound.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrUploadSessionNotFound
	}
	return nil
}

func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.UploadSession, error) {
	query := `SELECT ` + columns + ` FROM upload_sessions WHERE expires_at <= $1 ORDER BY expires_at`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to select sessions: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadSession
	for rows.Next() {
		var s models.UploadSession
		var role string
		if err := rows.Scan(&s.ID, &s.Filename, &s.Size, &s.MimeType, &s.UserID,
			&s.BackendID, &role, &s.MediaID, &s.FolderID, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, err
		}
		s.Role = models.Role(role)
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
